package errors

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"
)

// AnnotatedError includes more context than a plain error that is useful for troubleshooting.
type AnnotatedError struct {
	// msg is the error message.
	msg string
	// cause is the wrapped error, nil for errors created with New.
	cause error
	// pc is the program counter for the location of the error provided by runtime.Callers.
	pc uintptr
	// attrs are slog attributes that are added to the log event to provide more context for the error.
	attrs []slog.Attr
}

func callerPC(skip int) uintptr {
	var pcs [1]uintptr
	runtime.Callers(skip, pcs[:])
	return pcs[0]
}

// New creates a new AnnotatedError with the given message and attributes.
func New(msg string, attrs ...slog.Attr) error {
	// Skip runtime.Callers, callerPC and this function.
	return &AnnotatedError{
		msg:   msg,
		cause: nil,
		pc:    callerPC(3),
		attrs: attrs,
	}
}

// NewSentinel creates a plain error without other context that can be used as sentinel error that can be detected
// with errors.Is.
func NewSentinel(msg string) error {
	return errors.New(msg)
}

// Wrap adds msg and attrs to err. The returned error matches err with errors.Is and errors.As.
//
// Wrapping a nil error returns nil so that the result can be returned directly.
func Wrap(err error, msg string, attrs ...slog.Attr) error {
	if err == nil {
		return nil
	}
	return &AnnotatedError{
		msg:   msg,
		cause: err,
		pc:    callerPC(3),
		attrs: attrs,
	}
}

// Error implements error interface.
func (err *AnnotatedError) Error() string {
	if err.cause == nil {
		return err.msg
	}
	return fmt.Sprintf("%s: %s", err.msg, err.cause.Error())
}

// Unwrap exposes the wrapped error to errors.Is and errors.As.
func (err *AnnotatedError) Unwrap() error {
	return err.cause
}

// Attrs returns the slog attributes attached to this error, not including the wrapped errors.
func (err *AnnotatedError) Attrs() []slog.Attr {
	return err.attrs
}

func (err *AnnotatedError) source() string {
	frames := runtime.CallersFrames([]uintptr{err.pc})
	frame, _ := frames.Next()
	return fmt.Sprintf("%s:%d", frame.File, frame.Line)
}

// LogValue formats the error for useful logging.
func (err *AnnotatedError) LogValue() slog.Value {
	// Retrieve the source location of the error so that developers can locate it faster.
	attrs := append(
		[]slog.Attr{slog.String("source", err.source())},
		err.attrs...,
	)
	return slog.GroupValue(attrs...)
}

// SlogError creates an slog attribute from err.
//
// The attribute contains the error message, the source of the innermost annotated error, and the attributes of every
// annotated error in the chain.
func SlogError(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "<nil>")
	}
	var (
		attrs  = []slog.Attr{slog.String("msg", err.Error())}
		source string
	)
	for e := err; e != nil; e = errors.Unwrap(e) {
		var annotated *AnnotatedError
		if !errors.As(e, &annotated) {
			break
		}
		attrs = append(attrs, annotated.attrs...)
		source = annotated.source()
		e = annotated
	}
	if source != "" {
		attrs = append(attrs, slog.String("source", source))
	}
	return slog.Attr{Key: "error", Value: slog.GroupValue(attrs...)}
}

// As exposes stdlib errors.As.
func As(err error, target any) bool {
	return errors.As(err, target)
}

// Is exposes stdlib errors.Is.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// Unwrap exposes stdlib errors.Unwrap.
func Unwrap(err error) error {
	return errors.Unwrap(err)
}

// Join exposes stdlib errors.Join.
func Join(errs ...error) error {
	return errors.Join(errs...)
}
