package engine

import "errors"

// errNoMediaList is the Planner's sentinel for playlist-resolution failure:
// depth-limit exhaustion, an empty master playlist, or an unresolvable media
// playlist. classifyError maps it to DownloadErrorCode NO_MEDIA_LIST; any
// other error becomes UNEXPECTED_ERROR.
var errNoMediaList = errors.New("no resolvable media playlist")

// classifyError is the single place that turns an internal error into the
// public DownloadError carried by DownloadState/DownloadProgress. Grounded
// on the teacher's manager/worker split: worker.go returns plain errors,
// manager.go alone decides how to record them against a task's status.
func classifyError(err error) *DownloadError {
	if err == nil {
		return nil
	}
	code := ErrCodeUnexpected
	if errors.Is(err, errNoMediaList) {
		code = ErrCodeNoMediaList
	}
	return &DownloadError{Code: code, TechnicalMessage: err.Error()}
}
