package domain

import (
	"context"
	"errors"
)

var (
	ErrAlreadyRunning     = errors.New("a scrape is already in progress")
	ErrExtractorTimeout   = errors.New("extractor timed out")
	ErrExtractorBlocked   = errors.New("extractor blocked by site")
	ErrExtractorSiteError = errors.New("extractor site error")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrNotifier           = errors.New("notifier failed")
	ErrSchedulerLoopFault = errors.New("scheduler loop fault")
	ErrNotFound           = errors.New("not found")
)

// FailureKind maps an error onto the short name shown in run status.
func FailureKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAlreadyRunning):
		return "already_running"
	case errors.Is(err, ErrExtractorTimeout), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, ErrExtractorBlocked):
		return "blocked"
	case errors.Is(err, ErrExtractorSiteError):
		return "site_error"
	case errors.Is(err, ErrStorageUnavailable):
		return "storage_unavailable"
	case errors.Is(err, ErrNotifier):
		return "notifier"
	case errors.Is(err, ErrSchedulerLoopFault):
		return "scheduler_fault"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "unknown"
	}
}
