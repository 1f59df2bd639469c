package errors

import (
	stderrors "errors"
	"fmt"
)

// Kind identifies a class of failure shared by all components.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFoundOnMirror
	KindMirrorTransport
	KindChecksumMismatch
	KindCorruptedFile
	KindDscFileNotFound
	KindToolInvocation
	KindChangelogTimestamp
	KindUnsupportedCompression
)

var kindNames = map[Kind]string{
	KindUnknown:                "unknown error",
	KindNotFoundOnMirror:       "not found on mirror",
	KindMirrorTransport:        "mirror transport error",
	KindChecksumMismatch:       "checksum mismatch",
	KindCorruptedFile:          "corrupted file",
	KindDscFileNotFound:        "dsc file not found",
	KindToolInvocation:         "tool invocation failed",
	KindChangelogTimestamp:     "no changelog timestamp",
	KindUnsupportedCompression: "unsupported compression",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Sentinels for errors.Is. Only the Kind is compared.
var (
	ErrNotFoundOnMirror       = &Error{Kind: KindNotFoundOnMirror}
	ErrMirrorTransport        = &Error{Kind: KindMirrorTransport}
	ErrChecksumMismatch       = &Error{Kind: KindChecksumMismatch}
	ErrCorruptedFile          = &Error{Kind: KindCorruptedFile}
	ErrDscFileNotFound        = &Error{Kind: KindDscFileNotFound}
	ErrToolInvocation         = &Error{Kind: KindToolInvocation}
	ErrChangelogTimestamp     = &Error{Kind: KindChangelogTimestamp}
	ErrUnsupportedCompression = &Error{Kind: KindUnsupportedCompression}
)

// Error is the error type returned by the resolver, downloader and merger.
type Error struct {
	Kind    Kind
	Message string
	// Path is the local file or remote URL the error refers to.
	Path string
	// Output holds diagnostic text captured from an external tool.
	Output string
	Err    error
}

// New creates an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{
		Kind:    kind,
		Message: message,
	}
}

// Wrap creates an Error of the given kind carrying cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		Err:     cause,
	}
}

// WithPath sets the path and returns the receiver.
func (e *Error) WithPath(path string) *Error {
	e.Path = path
	return e
}

// WithOutput sets the captured tool output and returns the receiver.
func (e *Error) WithOutput(output string) *Error {
	e.Output = output
	return e
}

// Error implémente l'interface error pour Error.
func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Message != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Message)
	}
	if e.Path != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Path)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Output != "" {
		msg = fmt.Sprintf("%s\n%s", msg, e.Output)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsRecoverable reports whether a batch may skip the package that failed
// with err and continue with the next one. Every kind tied to a single
// package qualifies, including a failed external tool.
func IsRecoverable(err error) bool {
	switch KindOf(err) {
	case KindNotFoundOnMirror, KindMirrorTransport, KindChecksumMismatch,
		KindCorruptedFile, KindDscFileNotFound, KindChangelogTimestamp,
		KindToolInvocation, KindUnsupportedCompression:
		return true
	}
	return false
}
