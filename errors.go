package astra

import (
	"fmt"
	"github.com/pkg/errors"
	"sort"
	"strings"
)

// Error coded error returned by astra
type Error interface {
	Code() string
	Message() string
	Error() string
	StackTrace() errors.StackTrace
}

type astraErr struct {
	code  string
	msg   string
	cause error
	err   error
}

func (err *astraErr) Code() string {
	return err.code
}

func (err *astraErr) Message() string {
	return err.msg
}

func (err *astraErr) Error() string {
	if err.cause != nil {
		return fmt.Sprintf("astra err, code:%v, message:%v, cause:%v", err.code, err.msg, err.cause)
	}
	return fmt.Sprintf("astra err, code:%v, message:%v", err.code, err.msg)
}

func (err *astraErr) Cause() error {
	return err.cause
}

func (err *astraErr) Unwrap() error {
	return err.cause
}

func (err *astraErr) StackTrace() errors.StackTrace {
	if st, ok := err.err.(interface{ StackTrace() errors.StackTrace }); ok {
		return st.StackTrace()
	}
	return nil
}

// Format prints the stack trace with %+v
func (err *astraErr) Format(s fmt.State, verb rune) {
	switch verb {
	case 'v':
		if s.Flag('+') {
			fmt.Fprintf(s, "%s\n%+v", err.Error(), err.StackTrace())
			return
		}
		fallthrough
	case 's':
		fmt.Fprint(s, err.Error())
	case 'q':
		fmt.Fprintf(s, "%q", err.Error())
	}
}

// NewError creates a coded error. If the last arg is an error it is kept as the cause, the
// remaining args format msg.
func NewError(code string, msg string, args ...interface{}) Error {
	var cause error
	if n := len(args); n > 0 {
		if e, ok := args[n-1].(error); ok {
			cause = e
			args = args[:n-1]
		}
	}
	if len(args) > 0 {
		msg = fmt.Sprintf(msg, args...)
	}
	e := &astraErr{code: code, msg: msg, cause: cause}
	if cause != nil {
		e.err = errors.WithStack(cause)
	} else {
		e.err = errors.New(msg)
	}
	return e
}

// ErrorCode returns the code of err or ErrCodeGeneral when err is not coded
func ErrorCode(err error) string {
	var coded interface{ Code() string }
	if errors.As(err, &coded) {
		return coded.Code()
	}
	return ErrCodeGeneral
}

const (
	ErrCodeParameterBinding = "parameter_binding"
	ErrCodeTiming           = "timing"
	ErrCodeReconcile        = "reconciliation"
	ErrCodeInput            = "input"
	ErrCodeDbFail           = "db_fail"
	ErrCodeGeneral          = "general"
)

var (
	// ErrNotFound returned by a Store when the requested row does not exist
	ErrNotFound = errors.New("row not found")
	// ErrDuplicate returned by a Store when a unique constraint rejects a row
	ErrDuplicate = errors.New("duplicate row")
	// ErrNotBootstrapped returned when an operation needs the Context but it has not been created
	ErrNotBootstrapped = errors.New("task context has not been created")
)

// BindingErrorKind distinguishes the ways parameter binding can fail
type BindingErrorKind string

const (
	BindingMissing       BindingErrorKind = "missing"
	BindingUnexpected    BindingErrorKind = "unexpected"
	BindingAmbiguous     BindingErrorKind = "ambiguous"
	BindingBundledLength BindingErrorKind = "bundled_length"
	BindingUnsliceable   BindingErrorKind = "unsliceable"
)

// ParameterBindingError is raised when supplied values cannot be bound to a task schema.
// It aborts construction of the task instance.
type ParameterBindingError struct {
	Kind     BindingErrorKind
	TaskName string
	// Names of the offending parameters, sorted
	Names []string
	// Lengths of the relevant parameters, for ambiguous and length conflicts
	Lengths map[string]int
}

func (err *ParameterBindingError) Code() string {
	return ErrCodeParameterBinding
}

func (err *ParameterBindingError) Message() string {
	return err.Error()
}

func (err *ParameterBindingError) Error() string {
	names := "'" + strings.Join(err.Names, "', '") + "'"
	switch err.Kind {
	case BindingMissing:
		return fmt.Sprintf("%s missing %d required parameter%s: %s", err.TaskName, len(err.Names), plural(len(err.Names)), names)
	case BindingUnexpected:
		return fmt.Sprintf("%s got unexpected parameter%s: %s", err.TaskName, plural(len(err.Names)), names)
	case BindingAmbiguous:
		return fmt.Sprintf("%s: non-bundled parameters that are not container parameters must all have the same length, "+
			"otherwise the bundling is not explicit; found lengths: %s", err.TaskName, formatLengths(err.Lengths))
	case BindingBundledLength:
		name := err.Names[0]
		return fmt.Sprintf("%s: bundled parameter '%s' must be a single value (not %d values); either create separate tasks "+
			"per bundled value, or declare '%s' as a container parameter", err.TaskName, name, err.Lengths[name], name)
	case BindingUnsliceable:
		name := err.Names[0]
		return fmt.Sprintf("%s: parameter '%s' is a mapping of %d entries and cannot be sliced per task; "+
			"declare '%s' as a container parameter", err.TaskName, name, err.Lengths[name], name)
	}
	return fmt.Sprintf("%s: parameter binding failed (%s): %s", err.TaskName, err.Kind, names)
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}

func formatLengths(lengths map[string]int) string {
	keys := make([]string, 0, len(lengths))
	for k := range lengths {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s:%d", k, lengths[k]))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
