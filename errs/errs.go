// Package errs defines the closed error taxonomy used at every OS boundary
// in taskloop, and the translator that maps platform errors into it.
package errs

import "fmt"

// Code is a member of the closed error taxonomy. Internal code compares
// against Code values exclusively; raw syscall errors never leak past the
// translator in this package.
type Code int

const (
	OK Code = iota
	NotPermitted
	NotFound
	IOError
	BadFile
	TemporaryUnavailable
	NoMemory
	AccessDenied
	Fault
	AlreadyExists
	NoDevice
	InvalidArgument
	Limit
	TooManyFiles
	NotTypewriter
	NoSpace
	AddressInUse
	TimedOut
	Terminate
)

var names = [...]string{
	OK:                   "ok",
	NotPermitted:         "not permitted",
	NotFound:             "not found",
	IOError:              "i/o error",
	BadFile:              "bad file descriptor",
	TemporaryUnavailable: "temporarily unavailable",
	NoMemory:             "out of memory",
	AccessDenied:         "access denied",
	Fault:                "fault",
	AlreadyExists:        "already exists",
	NoDevice:             "no such device",
	InvalidArgument:      "invalid argument",
	Limit:                "system limit reached",
	TooManyFiles:         "too many open files",
	NotTypewriter:        "not a typewriter",
	NoSpace:              "no space left on device",
	AddressInUse:         "address already in use",
	TimedOut:             "timed out",
	Terminate:            "terminated",
}

func (c Code) String() string {
	if int(c) < 0 || int(c) >= len(names) || names[c] == "" {
		return fmt.Sprintf("errs.Code(%d)", int(c))
	}
	return names[c]
}

// Error is the concrete error type carried across taskloop's public API. It
// pairs a taxonomy Code with the operation that produced it, so callers can
// both errors.Is against a Code sentinel and read a human message.
type Error struct {
	Code Code
	Op   string
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Code.String()
	}
	return e.Op + ": " + e.Code.String()
}

// Is allows errors.Is(err, errs.ErrTimedOut) style comparisons: two
// *Error values match when their Codes are equal, whatever their Op.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New constructs an *Error for code c occurring during operation op.
func New(op string, code Code) *Error {
	return &Error{Code: code, Op: op}
}

// sentinel returns a bare *Error usable with errors.Is, e.g. `errs.ErrTimedOut`.
func sentinel(c Code) *Error { return &Error{Code: c} }

// Sentinels for errors.Is comparisons, e.g. errors.Is(err, errs.ErrTimedOut).
var (
	ErrNotPermitted         = sentinel(NotPermitted)
	ErrNotFound             = sentinel(NotFound)
	ErrIOError              = sentinel(IOError)
	ErrBadFile              = sentinel(BadFile)
	ErrTemporaryUnavailable = sentinel(TemporaryUnavailable)
	ErrNoMemory             = sentinel(NoMemory)
	ErrAccessDenied         = sentinel(AccessDenied)
	ErrFault                = sentinel(Fault)
	ErrAlreadyExists        = sentinel(AlreadyExists)
	ErrNoDevice             = sentinel(NoDevice)
	ErrInvalidArgument      = sentinel(InvalidArgument)
	ErrLimit                = sentinel(Limit)
	ErrTooManyFiles         = sentinel(TooManyFiles)
	ErrNotTypewriter        = sentinel(NotTypewriter)
	ErrNoSpace              = sentinel(NoSpace)
	ErrAddressInUse         = sentinel(AddressInUse)
	ErrTimedOut             = sentinel(TimedOut)
	ErrTerminate            = sentinel(Terminate)
)
