package interp

import "fmt"

// FaultKind classifies an interpreter-level failure, kept as a typed tag
// so the CLI driver can recover it through pkg/errors wrapping via
// errors.Cause and report something more useful than a bare string.
type FaultKind uint8

const (
	FaultDecode FaultKind = iota
	FaultClassNotFound
	FaultMissingMember
	FaultNullPointer
	FaultArithmetic
	FaultArrayIndex
	FaultArrayStore
	FaultUnsupportedOpcode
	FaultStackOverflow
	FaultUncaughtException
)

func (k FaultKind) String() string {
	switch k {
	case FaultDecode:
		return "decode error"
	case FaultClassNotFound:
		return "class not found"
	case FaultMissingMember:
		return "missing member"
	case FaultNullPointer:
		return "null pointer"
	case FaultArithmetic:
		return "arithmetic error"
	case FaultArrayIndex:
		return "array index out of bounds"
	case FaultArrayStore:
		return "array store error"
	case FaultUnsupportedOpcode:
		return "unsupported opcode"
	case FaultStackOverflow:
		return "stack overflow"
	case FaultUncaughtException:
		return "uncaught exception"
	default:
		return "fault"
	}
}

// Fault is the structured error value every interpreter failure bottoms
// out in. ClassName/MethodName/PC locate where it happened; for a
// thrown-but-uncaught Java exception, Thrown carries the exception object
// (an *runtime.Object, kept as `any` here to avoid an import cycle back
// into pkg/runtime).
type Fault struct {
	Kind       FaultKind
	ClassName  string
	MethodName string
	PC         int
	Message    string
	Thrown     any
}

func (f *Fault) Error() string {
	if f.ClassName == "" {
		return fmt.Sprintf("%s: %s", f.Kind, f.Message)
	}
	return fmt.Sprintf("%s: %s.%s at PC=%d: %s", f.Kind, f.ClassName, f.MethodName, f.PC, f.Message)
}

func newFault(kind FaultKind, frameClass, frameMethod string, pc int, format string, args ...any) *Fault {
	return &Fault{
		Kind:       kind,
		ClassName:  frameClass,
		MethodName: frameMethod,
		PC:         pc,
		Message:    fmt.Sprintf(format, args...),
	}
}
