package errors

import (
	"context"
	"errors"
	"fmt"
)

// ProbeError is the single error type surfaced by the measurement engine.
// Code identifies the failure kind; Probe names the invocation that failed.
type ProbeError struct {
	Code    string
	Probe   string
	Message string
	Cause   error
}

func (e *ProbeError) Error() string {
	prefix := e.Code
	if e.Probe != "" {
		prefix = e.Probe + ": " + e.Code
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Message)
}

func (e *ProbeError) Unwrap() error { return e.Cause }

const (
	ErrCodeLaunchFailed          = "LAUNCH_FAILED"
	ErrCodeArtifactTimeout       = "ARTIFACT_TIMEOUT"
	ErrCodeStreamStalled         = "STREAM_STALLED"
	ErrCodeParseError            = "PARSE_ERROR"
	ErrCodeNoData                = "NO_DATA"
	ErrCodeAggregationIncomplete = "AGGREGATION_INCOMPLETE"
	ErrCodeDownstreamFailed      = "DOWNSTREAM_FAILED"
	ErrCodeCancelled             = "CANCELLED"
	ErrCodeInvalidConfig         = "INVALID_CONFIG"
)

func ErrLaunchFailed(probe string, cause error) *ProbeError {
	return &ProbeError{
		Code:    ErrCodeLaunchFailed,
		Probe:   probe,
		Message: "failed to call command",
		Cause:   cause,
	}
}

func ErrArtifactTimeout(probe, path string, attempts int) *ProbeError {
	return &ProbeError{
		Code:    ErrCodeArtifactTimeout,
		Probe:   probe,
		Message: fmt.Sprintf("output %s not readable after %d attempts", path, attempts),
	}
}

func ErrStreamStalled(probe string, cause error) *ProbeError {
	return &ProbeError{
		Code:    ErrCodeStreamStalled,
		Probe:   probe,
		Message: "command did not return expected results",
		Cause:   cause,
	}
}

func ErrParse(probe, line string) *ProbeError {
	return &ProbeError{
		Code:    ErrCodeParseError,
		Probe:   probe,
		Message: fmt.Sprintf("unrecognised output %q", line),
	}
}

func ErrNoData(probe string, cause error) *ProbeError {
	return &ProbeError{
		Code:    ErrCodeNoData,
		Probe:   probe,
		Message: "no result line in command output",
		Cause:   cause,
	}
}

func ErrAggregationIncomplete(probe string, samples int, cause error) *ProbeError {
	return &ProbeError{
		Code:    ErrCodeAggregationIncomplete,
		Probe:   probe,
		Message: fmt.Sprintf("report ended without a summary row (%d interim rows)", samples),
		Cause:   cause,
	}
}

func ErrDownstreamFailed(msg string, cause error) *ProbeError {
	return &ProbeError{
		Code:    ErrCodeDownstreamFailed,
		Message: msg,
		Cause:   cause,
	}
}

func ErrCancelled(probe string, cause error) *ProbeError {
	return &ProbeError{
		Code:    ErrCodeCancelled,
		Probe:   probe,
		Message: "measurement interrupted",
		Cause:   cause,
	}
}

func ErrInvalidConfig(msg string, cause error) *ProbeError {
	return &ProbeError{
		Code:    ErrCodeInvalidConfig,
		Message: msg,
		Cause:   cause,
	}
}

// IsCode reports whether any ProbeError in err's chain carries code.
func IsCode(err error, code string) bool {
	var pe *ProbeError
	for err != nil {
		if !errors.As(err, &pe) {
			return false
		}
		if pe.Code == code {
			return true
		}
		err = pe.Cause
	}
	return false
}

// Code returns the outermost ProbeError code in err's chain, or "".
func Code(err error) string {
	var pe *ProbeError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

func IsContextError(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
