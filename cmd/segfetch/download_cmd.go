package main

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/justchokingaround/segfetch/internal/engine"
)

var (
	downloadHeaders    []string
	downloadOutputDir  string
	downloadMaxConc    int
	downloadMinFreeMiB int64
)

var downloadCmd = &cobra.Command{
	Use:   "download <url> [url...]",
	Short: "Download one or more URLs, reporting progress until all finish",
	Long: `download starts a download for every URL given, then enters an
interactive session: type "pause <id>", "resume <id>", "cancel <id>", or
"status" to control in-flight downloads, or Ctrl+C to cancel everything and
exit.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runDownload,
}

func init() {
	downloadCmd.Flags().StringArrayVar(&downloadHeaders, "header", nil, "extra HTTP header as key=value (repeatable)")
	downloadCmd.Flags().StringVar(&downloadOutputDir, "output-dir", "", "directory to write completed files to (default: config downloads.output_dir)")
	downloadCmd.Flags().IntVar(&downloadMaxConc, "max-concurrent", 0, "maximum concurrent segment fetches per download (default: config downloads.max_concurrent_segments)")
	downloadCmd.Flags().Int64Var(&downloadMinFreeMiB, "min-free-mib", 0, "fail the download if fewer than this many MiB are free (default: config downloads.min_free_space_bytes)")
}

func runDownload(cmd *cobra.Command, args []string) error {
	outputDir := downloadOutputDir
	if outputDir == "" {
		outputDir = cfg.Downloads.OutputDir
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	headers, err := parseHeaders(downloadHeaders)
	if err != nil {
		return err
	}

	opts := engine.DefaultDownloadOptions()
	opts.Headers = headers
	if downloadMaxConc > 0 {
		opts.MaxConcurrentSegments = downloadMaxConc
	} else if cfg.Downloads.MaxConcurrentSegments > 0 {
		opts.MaxConcurrentSegments = cfg.Downloads.MaxConcurrentSegments
	}
	if downloadMinFreeMiB > 0 {
		opts.MinFreeSpaceBytes = downloadMinFreeMiB * 1024 * 1024
	} else {
		opts.MinFreeSpaceBytes = cfg.Downloads.MinFreeSpaceBytes
	}

	eng := engine.New(http.DefaultClient, logger, histSvc)
	defer eng.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ids := make([]engine.DownloadID, 0, len(args))
	for _, url := range args {
		outputPath := filepath.Join(outputDir, outputFilename(url))
		id, err := eng.Download(ctx, url, outputPath, opts)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start %s: %v\n", url, err)
			continue
		}
		fmt.Printf("started %s -> %s (%s)\n", id, outputPath, url)
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return fmt.Errorf("no downloads started")
	}

	progress, cancelProgress := eng.ProgressFlow()
	defer cancelProgress()
	go printProgress(progress)

	go runControlSession(eng)

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id engine.DownloadID) {
			defer wg.Done()
			eng.JoinDownload(ctx, id)
		}(id)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		eng.CancelAll()
		wg.Wait()
	}

	printFinalSummary(eng, ids)
	return nil
}

func parseHeaders(raw []string) (map[string]string, error) {
	headers := make(map[string]string, len(raw))
	for _, h := range raw {
		k, v, ok := strings.Cut(h, "=")
		if !ok {
			return nil, fmt.Errorf("invalid header %q, expected key=value", h)
		}
		headers[k] = v
	}
	return headers, nil
}

func outputFilename(rawURL string) string {
	base := filepath.Base(rawURL)
	if idx := strings.IndexByte(base, '?'); idx >= 0 {
		base = base[:idx]
	}
	if base == "" || base == "." || base == "/" {
		base = "download"
	}
	switch engine.DetectMediaType(rawURL) {
	case engine.MediaMP4:
		if !strings.HasSuffix(base, ".mp4") {
			base += ".mp4"
		}
	case engine.MediaMKV:
		if !strings.HasSuffix(base, ".mkv") {
			base += ".mkv"
		}
	default:
		if !strings.HasSuffix(base, ".ts") {
			base = strings.TrimSuffix(base, filepath.Ext(base)) + ".ts"
		}
	}
	return base
}

func printProgress(progress <-chan engine.DownloadProgress) {
	for p := range progress {
		fmt.Printf("\r[%s] %-11s %d/%d segments, %d bytes", p.DownloadID, p.Status, p.DownloadedSegments, p.TotalSegments, p.DownloadedBytes)
		if p.Status.IsTerminal() {
			fmt.Println()
		}
	}
}

func printFinalSummary(eng *engine.Engine, ids []engine.DownloadID) {
	fmt.Println("\nfinal status:")
	for _, id := range ids {
		state, ok := eng.GetState(id)
		if !ok {
			continue
		}
		if state.Error != nil {
			fmt.Printf("  %s: %s (%s: %s)\n", id, state.Status, state.Error.Code, state.Error.TechnicalMessage)
		} else {
			fmt.Printf("  %s: %s\n", id, state.Status)
		}
	}
}

// runControlSession reads pause/resume/cancel/status commands from stdin
// until EOF, so an operator can steer in-flight downloads without a second
// process — the engine's in-memory state has no cross-process story, so
// control must happen within this one.
func runControlSession(eng *engine.Engine) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "status":
			for _, s := range eng.GetAllStates() {
				fmt.Printf("  %s: %s\n", s.DownloadID, s.Status)
			}
		case "pause":
			if len(fields) < 2 {
				fmt.Println("usage: pause <id>")
				continue
			}
			if !eng.Pause(engine.DownloadID(fields[1])) {
				fmt.Println("no active download with that id")
			}
		case "resume":
			if len(fields) < 2 {
				fmt.Println("usage: resume <id>")
				continue
			}
			if !eng.Resume(engine.DownloadID(fields[1])) {
				fmt.Println("nothing to resume for that id")
			}
		case "cancel":
			if len(fields) < 2 {
				fmt.Println("usage: cancel <id>")
				continue
			}
			if !eng.Cancel(engine.DownloadID(fields[1])) {
				fmt.Println("no download with that id")
			}
		default:
			fmt.Printf("unknown command %q (try: status, pause <id>, resume <id>, cancel <id>)\n", fields[0])
		}
	}
}
