package app

import (
	"context"
	"errors"
)

// StopReason tells why a watch session ended.
type StopReason string

const (
	StopUnknown    StopReason = "unknown"
	StopSignal     StopReason = "signal"
	StopFatalError StopReason = "fatal_error"
)

func stopReason(parent context.Context, err error) StopReason {
	switch {
	case err != nil && !errors.Is(err, context.Canceled):
		return StopFatalError
	case parent.Err() != nil:
		return StopSignal
	default:
		return StopUnknown
	}
}
