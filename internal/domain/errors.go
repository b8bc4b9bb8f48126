package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNoOutputs     = errors.New("no outputs to process")
	ErrRunInProgress = errors.New("pipeline run already in progress")
)

type ScheduleParseError struct {
	Value string
	Err   error
}

func (e *ScheduleParseError) Error() string {
	return fmt.Sprintf("invalid schedule date %q (want MM-DD-YYYY): %v", e.Value, e.Err)
}

func (e *ScheduleParseError) Unwrap() error { return e.Err }

type DownloadError struct {
	URL string
	Err error
}

func (e *DownloadError) Error() string { return fmt.Sprintf("download %s: %v", e.URL, e.Err) }

func (e *DownloadError) Unwrap() error { return e.Err }

type ExtractError struct {
	Archive string
	Err     error
}

func (e *ExtractError) Error() string { return fmt.Sprintf("extract %s: %v", e.Archive, e.Err) }

func (e *ExtractError) Unwrap() error { return e.Err }

// StageToolError is a failed external tool invocation for a single unit.
type StageToolError struct {
	Op       string
	Unit     string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *StageToolError) Error() string {
	msg := fmt.Sprintf("%s %s: exit %d", e.Op, e.Unit, e.ExitCode)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *StageToolError) Unwrap() error { return e.Err }
