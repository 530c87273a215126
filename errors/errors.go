package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Phase is the stage of watermarking that failed.
type Phase string

const (
	PhaseEmbed   Phase = "embed"
	PhaseExtract Phase = "extract"
	PhaseDecode  Phase = "decode"
	PhaseEncode  Phase = "encode"
	PhaseVerify  Phase = "verify"
	PhaseConfig  Phase = "config"
)

// Kind categorizes the error
type Kind string

const (
	KindInvalidInput  Kind = "invalid input"
	KindInvalidData   Kind = "invalid data"
	KindUnsupported   Kind = "unsupported"
	KindNotFound      Kind = "not found"
	KindMismatch      Kind = "mismatch"
	KindInstantiation Kind = "instantiation"
)

// Error is a watermarking failure. Method and Func narrow it down to the
// watermarking method and the function being processed, when known. Path
// names the offending field or file. Value holds the offending input, such
// as a chunk size.
type Error struct {
	Value  any
	Cause  error
	Phase  Phase
	Kind   Kind
	Method string
	Func   string
	Detail string
	Path   []string
}

// Error formats the error as
// "phase method: func name: kind at path: detail: cause", leaving out the
// parts that are not set.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Phase))
	if e.Method != "" {
		b.WriteByte(' ')
		b.WriteString(e.Method)
	}
	if e.Func != "" {
		fmt.Fprintf(&b, ": func %s", e.Func)
	}
	b.WriteString(": ")
	b.WriteString(string(e.Kind))
	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, ", "))
	}
	for _, part := range []string{e.Detail, causeText(e.Cause)} {
		if part != "" {
			b.WriteString(": ")
			b.WriteString(part)
		}
	}
	return b.String()
}

func causeText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches a target *Error with the same Phase and Kind. An empty Phase
// in the target matches any phase.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return (t.Phase == "" || e.Phase == t.Phase) && e.Kind == t.Kind
}

// Builder assembles an Error.
type Builder struct {
	err Error
}

// New starts an error of the given phase and kind.
func New(phase Phase, kind Kind) *Builder {
	return &Builder{err: Error{Phase: phase, Kind: kind}}
}

func (b *Builder) Method(name string) *Builder {
	b.err.Method = name
	return b
}

// Path sets the offending field names or file path.
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

func (b *Builder) Func(name string) *Builder {
	b.err.Func = name
	return b
}

func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the message, formatting it when args are given.
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		msg = fmt.Sprintf(msg, args...)
	}
	b.err.Detail = msg
	return b
}

func (b *Builder) Build() *Error {
	e := b.err
	return &e
}

// InvalidInput reports a bad argument, such as an empty watermark.
func InvalidInput(phase Phase, detail string) *Error {
	return New(phase, KindInvalidInput).Detail(detail).Build()
}

// Unsupported reports a method, instruction or module feature the
// watermarker cannot handle.
func Unsupported(phase Phase, what string) *Error {
	return New(phase, KindUnsupported).Detail(what).Build()
}

// Wrap attaches phase, kind and detail to cause.
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return New(phase, kind).Cause(cause).Detail(detail).Build()
}

// Mismatch reports results that differ between the original and the
// watermarked module.
func Mismatch(phase Phase, what string, want, got any) *Error {
	return New(phase, KindMismatch).
		Value(got).
		Detail("%s: want %v, got %v", what, want, got).
		Build()
}

// Instantiation reports a module that wazero could not compile or
// instantiate.
func Instantiation(cause error) *Error {
	return New(PhaseVerify, KindInstantiation).Cause(cause).Detail("instantiate module").Build()
}

// DecodeFailed reports a function body that could not be decoded.
func DecodeFailed(funcName string, cause error) *Error {
	return New(PhaseDecode, KindInvalidData).Func(funcName).Cause(cause).Detail("decode function body").Build()
}

// WithMethod sets the method of err, or of the first *Error in its chain,
// unless one is already recorded. Other errors are returned as they are.
func WithMethod(err error, method string) error {
	var e *Error
	if errors.As(err, &e) && e.Method == "" {
		e.Method = method
	}
	return err
}
