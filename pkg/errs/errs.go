// Package errs provides the error type used across the console backend.
//
// The design follows the upspin/diygoapi errors package: an error carries a
// Kind that decides how it is presented to the caller, an Op describing where
// it happened, and optionally the parameter and user it concerns.
package errs

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// Error is the type that implements the error interface.
type Error struct {
	// User is the username of the user attempting the operation.
	User UserName
	// Kind is the class of error, such as permission failure,
	// or "Other" if its class is unknown or irrelevant.
	Kind Kind
	// Param represents the parameter related to the error.
	Param Parameter
	// Code is a human-readable, short representation of the error
	Code Code
	// Op is the operation being performed, usually the name of the
	// method being invoked.
	Op Op
	// The underlying error that triggered this one, if any.
	Err error
}

func (e *Error) isZero() bool {
	return e.User == "" && e.Kind == 0 && e.Param == "" && e.Code == "" && e.Err == nil
}

// Unwrap method allows for unwrapping errors using errors.As
func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Error() string {
	b := new(strings.Builder)

	if e.Op != "" {
		pad(b, ": ")
		b.WriteString(string(e.Op))
	}

	if e.User != "" {
		pad(b, ": ")
		b.WriteString("user ")
		b.WriteString(string(e.User))
	}

	if e.Kind != 0 {
		pad(b, ": ")
		b.WriteString(e.Kind.String())
	}

	if e.Err != nil {
		var prev *Error
		if errors.As(e.Err, &prev) {
			if !prev.isZero() {
				pad(b, ": ")
				b.WriteString(e.Err.Error())
			}
		} else {
			pad(b, ": ")
			b.WriteString(e.Err.Error())
		}
	}

	if b.Len() == 0 {
		return "no error"
	}

	return b.String()
}

func pad(b *strings.Builder, str string) {
	if b.Len() == 0 {
		return
	}
	b.WriteString(str)
}

// Op describes an operation, usually as the package and method,
// such as "collectionService.List".
type Op string

// UserName is the email of the user attempting the operation.
type UserName string

// Parameter represents the parameter related to the error.
type Parameter string

// Code is a human-readable, short representation of the error
type Code string

// Kind defines the kind of error this is, mostly for use by systems
// such as HTTP handlers that must act differently depending on the error.
type Kind uint8

// Kinds of errors.
//
// Do not reorder this list or remove any items since that will change their
// values. New items must be added only to the end.
const (
	Other           Kind = iota // Unclassified error. This value is not printed in the error message.
	Invalid                     // Invalid operation for this type of item.
	IO                          // External I/O error such as network failure.
	Exist                       // Item already exists.
	NotExist                    // Item does not exist.
	Private                     // Information withheld.
	Internal                    // Internal error or inconsistency.
	BrokenLink                  // Link target does not exist.
	Database                    // Error from database.
	Validation                  // Input validation error.
	InvalidRequest              // Invalid Request
	Unauthenticated             // Unauthenticated Request
	Unauthorized                // Unauthorized Request
)

func (k Kind) String() string {
	switch k {
	case Other:
		return "other error"
	case Invalid:
		return "invalid operation"
	case IO:
		return "I/O error"
	case Exist:
		return "item already exists"
	case NotExist:
		return "item does not exist"
	case BrokenLink:
		return "link target does not exist"
	case Private:
		return "information withheld"
	case Internal:
		return "internal error"
	case Database:
		return "database error"
	case Validation:
		return "input validation error"
	case InvalidRequest:
		return "invalid request error"
	case Unauthenticated:
		return "unauthenticated request"
	case Unauthorized:
		return "unauthorized request"
	}

	return "unknown error kind"
}

// E builds an error value from its arguments.
// There must be at least one argument or E panics.
// The type of each argument determines its meaning.
// If more than one argument of a given type is presented,
// only the last one is recorded.
//
// The types are:
//
//	UserName
//		The username of the user attempting the operation.
//	string
//		Treated as an error message and assigned to the
//		Err field after a call to errors.New.
//	errs.Kind
//		The class of error, such as permission failure.
//	errs.Parameter
//		The parameter the error relates to.
//	errs.Code
//		A short, human-readable code.
//	errs.Op
//		The operation being performed.
//	error
//		The underlying error that triggered this one.
//
// If the error is printed, only those items that have been
// set to non-zero values will appear in the result.
//
// If Kind is not specified or Other, we set it to the Kind of
// the underlying error.
func E(args ...interface{}) error {
	if len(args) == 0 {
		panic("call to errs.E with no arguments")
	}

	e := &Error{}
	for _, arg := range args {
		switch arg := arg.(type) {
		case UserName:
			e.User = arg
		case string:
			e.Err = errors.New(arg)
		case Kind:
			e.Kind = arg
		case *Error:
			e.Err = arg
		case error:
			e.Err = arg
		case Code:
			e.Code = arg
		case Parameter:
			e.Param = arg
		case Op:
			e.Op = arg
		default:
			_, file, line, _ := runtime.Caller(1)
			return fmt.Errorf("errs.E: bad call from %s:%d: %v, unknown type %T, value %v in error call", file, line, args, arg, arg)
		}
	}

	prev, ok := e.Err.(*Error)
	if !ok {
		return e
	}

	// If this error has Kind unset or Other, pull up the inner one.
	if e.Kind == Other {
		e.Kind = prev.Kind
		prev.Kind = Other
	}

	if prev.Code == e.Code {
		prev.Code = ""
	}

	// If this error has Code == "", pull up the inner one.
	if e.Code == "" {
		e.Code = prev.Code
		prev.Code = ""
	}

	if prev.Param == e.Param {
		prev.Param = ""
	}

	if e.Param == "" {
		e.Param = prev.Param
		prev.Param = ""
	}

	if prev.User == e.User {
		prev.User = ""
	}

	if e.User == "" {
		e.User = prev.User
		prev.User = ""
	}

	return e
}

// Str returns an error that formats as the given text. It is intended to
// be used as the error-typed argument to the E function.
func Str(text string) error {
	return &errorString{text}
}

type errorString struct {
	s string
}

func (e *errorString) Error() string {
	return e.s
}

// KindIs reports whether err is an *Error of the given Kind.
// If err is nil then KindIs returns false.
func KindIs(kind Kind, err error) bool {
	var e *Error
	if errors.As(err, &e) {
		if e.Kind != Other {
			return e.Kind == kind
		}
		if e.Err != nil {
			return KindIs(kind, e.Err)
		}
	}

	return false
}

// KindOf returns the outermost non-Other kind of err, or Other.
func KindOf(err error) Kind {
	var e *Error
	for errors.As(err, &e) {
		if e.Kind != Other {
			return e.Kind
		}
		err = e.Err
	}

	return Other
}

// OpStack returns the chain of operations recorded in err, outermost first.
func OpStack(err error) []string {
	type o struct {
		Op    string
		Order int
	}

	e := err
	i := 0
	var os []o

	for errors.Unwrap(e) != nil {
		var errsError *Error
		if errors.As(e, &errsError) {
			if errsError.Op != "" {
				op := o{Op: string(errsError.Op), Order: i}
				os = append(os, op)
			}
		}
		e = errors.Unwrap(e)
		i++
	}

	ops := make([]string, 0, len(os))
	for _, op := range os {
		ops = append(ops, op.Op)
	}

	return ops
}

// Match compares its two error arguments. It can be used to check
// for expected errors in tests. Both arguments must have underlying
// type *Error or Match will return false. Otherwise it returns true
// iff every non-zero element of the first error is equal to the
// corresponding element of the second.
func Match(err1, err2 error) bool {
	e1, ok := err1.(*Error)
	if !ok {
		return false
	}

	e2, ok := err2.(*Error)
	if !ok {
		return false
	}

	if e1.User != "" && e2.User != e1.User {
		return false
	}

	if e1.Kind != Other && e2.Kind != e1.Kind {
		return false
	}

	if e1.Param != "" && e2.Param != e1.Param {
		return false
	}

	if e1.Code != "" && e2.Code != e1.Code {
		return false
	}

	if e1.Err != nil {
		if _, ok := e1.Err.(*Error); ok {
			return Match(e1.Err, e2.Err)
		}
		if e2.Err == nil || e2.Err.Error() != e1.Err.Error() {
			return false
		}
	}

	return true
}
