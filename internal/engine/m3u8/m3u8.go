// Package m3u8 is a minimal HLS playlist parser, consumed by the Planner as
// a pure function: Parse(text, baseURL) -> *Playlist. Grounded on the
// parsing shape of itsmenewbie03-greg/internal/downloader/hls/hls.go and
// alvarorichard-GoAnime/internal/downloader/hls/hls.go, which both recognize
// #EXT-X-STREAM-INF to distinguish a master playlist from a media playlist
// and carry the same tag set (#EXT-X-VERSION, #EXT-X-MEDIA-SEQUENCE,
// #EXTINF, #EXT-X-BYTERANGE, #EXT-X-ENDLIST).
package m3u8

import (
	"bufio"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Variant is one entry of a master playlist: a candidate rendition with an
// advertised bandwidth and the absolute URI of its media playlist.
type Variant struct {
	Bandwidth int64
	URI       string
}

// ByteRange mirrors an EXT-X-BYTERANGE tag: length and an optional offset.
// The engine's Planner does not fetch these as HTTP ranges (see the
// EXT-X-BYTERANGE open question); they are carried through only so a
// segment's known length can be recorded.
type ByteRange struct {
	Length int64
	Offset int64 // -1 when not specified
}

// Segment is one entry of a media playlist.
type Segment struct {
	URI       string
	Duration  float64
	ByteRange *ByteRange // nil when absent
}

// Playlist is the result of parsing: a master playlist populates Variants
// and a media playlist populates Segments; a playlist with no URI lines
// populates neither, and IsMaster is then false.
type Playlist struct {
	IsMaster      bool
	Variants      []Variant
	MediaSequence int
	Segments      []Segment
}

// Parse parses HLS playlist text and resolves every relative URI against
// baseURL, producing absolute URIs in the result.
func Parse(text string, baseURL string) (*Playlist, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}

	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	pl := &Playlist{}
	var pendingBandwidth int64
	var pendingDuration float64
	var pendingRange *ByteRange
	sawStreamInf := false

	resolve := func(raw string) string {
		raw = strings.TrimSpace(raw)
		ref, err := url.Parse(raw)
		if err != nil {
			return raw
		}
		return base.ResolveReference(ref).String()
	}

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch {
		case strings.HasPrefix(line, "#EXT-X-STREAM-INF:"):
			sawStreamInf = true
			pendingBandwidth = parseAttrInt(line, "BANDWIDTH")

		case strings.HasPrefix(line, "#EXT-X-MEDIA-SEQUENCE:"):
			seq, _ := strconv.Atoi(strings.TrimPrefix(line, "#EXT-X-MEDIA-SEQUENCE:"))
			pl.MediaSequence = seq

		case strings.HasPrefix(line, "#EXTINF:"):
			rest := strings.TrimPrefix(line, "#EXTINF:")
			rest = strings.SplitN(rest, ",", 2)[0]
			d, _ := strconv.ParseFloat(strings.TrimSpace(rest), 64)
			pendingDuration = d

		case strings.HasPrefix(line, "#EXT-X-BYTERANGE:"):
			pendingRange = parseByteRange(strings.TrimPrefix(line, "#EXT-X-BYTERANGE:"))

		case strings.HasPrefix(line, "#EXT-X-ENDLIST"):
			// no state to track; presence only matters to live players.

		case strings.HasPrefix(line, "#"):
			// unrecognized tag, ignore.

		default:
			// a URI line: either a variant (if we just saw STREAM-INF) or a
			// media segment.
			if sawStreamInf {
				pl.Variants = append(pl.Variants, Variant{
					Bandwidth: pendingBandwidth,
					URI:       resolve(line),
				})
				sawStreamInf = false
				pendingBandwidth = 0
			} else {
				pl.Segments = append(pl.Segments, Segment{
					URI:       resolve(line),
					Duration:  pendingDuration,
					ByteRange: pendingRange,
				})
				pendingDuration = 0
				pendingRange = nil
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan playlist: %w", err)
	}

	pl.IsMaster = len(pl.Variants) > 0 && len(pl.Segments) == 0
	return pl, nil
}

func parseAttrInt(line, attr string) int64 {
	idx := strings.Index(line, attr+"=")
	if idx < 0 {
		return 0
	}
	rest := line[idx+len(attr)+1:]
	end := strings.IndexAny(rest, ",")
	if end >= 0 {
		rest = rest[:end]
	}
	v, _ := strconv.ParseInt(strings.TrimSpace(rest), 10, 64)
	return v
}

// parseByteRange parses "length[@offset]" per the EXT-X-BYTERANGE grammar.
func parseByteRange(s string) *ByteRange {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	parts := strings.SplitN(s, "@", 2)
	length, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return nil
	}
	br := &ByteRange{Length: length, Offset: -1}
	if len(parts) == 2 {
		if off, err := strconv.ParseInt(parts[1], 10, 64); err == nil {
			br.Offset = off
		}
	}
	return br
}
