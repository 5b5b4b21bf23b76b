package transfer

import (
	"fmt"
	"strings"
)

// SourceUnavailableError means the origin repository could not be reached or
// does not hold the wanted ref. The remote command ran; its stderr is kept
// for diagnostics.
type SourceUnavailableError struct {
	Repo   string
	Branch string
	Stderr string
	Err    error
}

func (e *SourceUnavailableError) Error() string {
	msg := fmt.Sprintf("source %s (branch %s) is unavailable", e.Repo, e.Branch)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

func (e *SourceUnavailableError) Unwrap() error { return e.Err }

// SourceMissingError means the local source directory to package does not
// exist. Detected before anything is sent to the target.
type SourceMissingError struct {
	Path string
}

func (e *SourceMissingError) Error() string {
	return fmt.Sprintf("source directory %s does not exist", e.Path)
}
