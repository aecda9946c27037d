package al

import (
	"errors"
	"fmt"
)

// InvalidRuleError reports a rule selector outside the supported set.
type InvalidRuleError struct {
	Rule int
}

func (e *InvalidRuleError) Error() string {
	return fmt.Sprintf("invalid rule %d: supported rules are %v", e.Rule, SupportedRules())
}

// EmptyPoolError reports that a normalisation pass had no values to
// compute bounds from, which happens when every frame was empty.
type EmptyPoolError struct {
	Stage string
}

func (e *EmptyPoolError) Error() string {
	if e.Stage == "" {
		return "empty pool: no non-empty frames to score"
	}
	return fmt.Sprintf("empty pool: no values to normalise in %s", e.Stage)
}

// MissingParameterError reports a rule invoked without a parameter it needs.
type MissingParameterError struct {
	Rule  Rule
	Param string
}

func (e *MissingParameterError) Error() string {
	return fmt.Sprintf("rule %d requires parameter %q", int(e.Rule), e.Param)
}

// UnknownFrameIDError reports a chosen frame identifier that cannot be
// mapped back into the unlabeled pool.
type UnknownFrameIDError struct {
	FrameID string
	Reason  string
}

func (e *UnknownFrameIDError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("unknown frame id %q", e.FrameID)
	}
	return fmt.Sprintf("unknown frame id %q: %s", e.FrameID, e.Reason)
}

// MalformedDetectionError reports a detection record whose per-object
// arrays disagree or whose uncertainty estimates have the wrong shape.
type MalformedDetectionError struct {
	FrameID string
	Field   string
	Reason  string
}

func (e *MalformedDetectionError) Error() string {
	return fmt.Sprintf("malformed detection for frame %q: %s: %s", e.FrameID, e.Field, e.Reason)
}

// InvalidParameterError reports a configuration value or pool index that
// is out of range. It is the caller's mistake, not a failure of the round.
type InvalidParameterError struct {
	Param  string
	Reason string
}

func (e *InvalidParameterError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Param, e.Reason)
}

func invalidParam(param, format string, args ...interface{}) error {
	return &InvalidParameterError{Param: param, Reason: fmt.Sprintf(format, args...)}
}

func malformed(frameID, field, format string, args ...interface{}) error {
	return &MalformedDetectionError{FrameID: frameID, Field: field, Reason: fmt.Sprintf(format, args...)}
}

// ErrorKind returns a short stable label for the error kinds above, used
// as a metrics label and in the round log. Errors of any other type map
// to "other".
func ErrorKind(err error) string {
	var (
		invalidRule *InvalidRuleError
		emptyPool   *EmptyPoolError
		missing     *MissingParameterError
		unknown     *UnknownFrameIDError
		bad         *MalformedDetectionError
		invalid     *InvalidParameterError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &invalidRule):
		return "invalid_rule"
	case errors.As(err, &emptyPool):
		return "empty_pool"
	case errors.As(err, &missing):
		return "missing_parameter"
	case errors.As(err, &unknown):
		return "unknown_frame_id"
	case errors.As(err, &bad):
		return "malformed_detection"
	case errors.As(err, &invalid):
		return "invalid_parameter"
	default:
		return "other"
	}
}
