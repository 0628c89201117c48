package errors

import (
	"errors"
	"log/slog"
	"maps"
	"slices"
)

// hintKey is the metadata key of the suggestion shown to the user after the
// error.
const hintKey = "hint"

// NewRuntimeError returns an error for a failed command, wrapping cause. If
// hint is set, it's shown to the user along with the error.
func NewRuntimeError(msg string, cause error, hint string, fields ...any) *StructuredError {
	if hint != "" {
		fields = append(fields, hintKey, hint)
	}
	return NewWithCause(msg, cause, fields...)
}

// Log logs an error using the default slog logger, extracting metadata if it's
// a StructuredError.
func Log(err error) {
	var serr *StructuredError
	if !errors.As(err, &serr) {
		slog.Error(err.Error())
		return
	}

	args := make([]any, 0, len(serr.metadata)*2+2)

	cause := serr.metadata["cause"]
	if serr.cause != nil {
		cause = serr.cause.Error()
	}
	if cause != nil {
		args = append(args, "cause", cause)
	}

	for _, k := range slices.Sorted(maps.Keys(serr.metadata)) {
		if k != "cause" && k != hintKey {
			args = append(args, k, serr.metadata[k])
		}
	}

	slog.Error(serr.Error(), args...)

	if hint, ok := serr.metadata[hintKey].(string); ok {
		slog.Info(hint)
	}
}
