// Package interp implements the bytecode interpreter: instruction decode
// and dispatch over a Frame, built on pkg/runtime's value/object model
// and pkg/classload's resolver/registry.
package interp

import (
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/jvmgo/gojvm-core/pkg/classload"
	"github.com/jvmgo/gojvm-core/pkg/runtime"
)

// Interp drives one thread of execution against a class registry. One
// Interp is created per run of the CLI; it carries no state beyond its
// thread and registry, so nothing prevents constructing more than one
// for embedding use.
type Interp struct {
	Registry *classload.Registry
	Thread   *runtime.Thread
	Log      log.FieldLogger
}

// New builds an Interp. A nil logger defaults to a discard sink so library
// callers that don't care about tracing pay nothing.
func New(reg *classload.Registry, logger log.FieldLogger) *Interp {
	if logger == nil {
		discard := log.New()
		discard.SetOutput(discardWriter{})
		logger = discard
	}
	return &Interp{Registry: reg, Thread: runtime.NewThread(), Log: logger}
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

// ExecuteMain loads mainClassName and runs its main(String[]) method.
// The args parameter becomes a null String[] since constructing real
// String objects from shell arguments needs the native-bridge layer this
// core does not carry.
func (in *Interp) ExecuteMain(mainClassName string) error {
	class, err := in.Registry.Load(mainClassName)
	if err != nil {
		return errors.Wrapf(err, "loading start class %s", mainClassName)
	}
	method, ok := class.Method("main", "([Ljava/lang/String;)V")
	if !ok {
		return errors.Errorf("class %s has no main([Ljava/lang/String;)V method", mainClassName)
	}
	if method.Code == nil {
		return errors.Errorf("%s.main has no Code attribute", mainClassName)
	}

	_, err = in.ExecuteMethod(class, method, []runtime.Value{runtime.NullValue()})
	return err
}

// ExecuteMethod runs one method to completion, returning its result value
// (Value{} for void). args are placed in local-variable slots 0..n in
// order, honoring category-2 double-slot occupancy.
func (in *Interp) ExecuteMethod(class *classload.Class, method *classload.Method, args []runtime.Value) (runtime.Value, error) {
	if method.IsNative() {
		return runtime.Value{}, newFault(FaultUnsupportedOpcode, class.Name, method.Name, 0, "native method bridging is not implemented in this core")
	}
	if method.IsAbstract() || method.Code == nil {
		return runtime.Value{}, newFault(FaultMissingMember, class.Name, method.Name, 0, "method has no Code attribute")
	}

	frame := runtime.NewFrame(class, method)
	slot := 0
	for _, a := range args {
		frame.SetLocal(slot, a)
		if a.IsCategory2() {
			slot += 2
		} else {
			slot++
		}
	}

	if err := in.Thread.PushFrame(frame); err != nil {
		return runtime.Value{}, newFault(FaultStackOverflow, class.Name, method.Name, 0, err.Error())
	}
	defer in.Thread.PopFrame()

	for frame.PC < len(frame.Code) {
		instructionPC := frame.PC
		opcode := frame.Code[frame.PC]
		frame.PC++

		in.Log.WithField("class", class.Name).WithField("method", method.Name).
			WithField("pc", instructionPC).WithField("opcode", opcode).Debug("executing instruction")

		retVal, hasReturn, err := in.step(frame, opcode)
		if err != nil {
			handled, continueErr := in.handleStepError(frame, instructionPC, err)
			if continueErr != nil {
				return runtime.Value{}, continueErr
			}
			if handled {
				continue
			}
		}
		if hasReturn {
			return retVal, nil
		}
	}

	// Fell off the end: only valid for a void method.
	return runtime.Value{}, nil
}

// handleStepError walks the current frame's exception table for a thrown
// Fault. Returns (true, nil) if a handler was found and the frame was
// rewound to it; otherwise returns the (possibly re-wrapped) error to
// propagate to the caller.
func (in *Interp) handleStepError(frame *runtime.Frame, instructionPC int, err error) (bool, error) {
	fault, ok := err.(*Fault)
	if !ok || fault.Kind != FaultUncaughtException {
		if ok {
			// Faults propagating up from a callee frame keep the location
			// they were raised at; only faults raised without one are pinned
			// to the current instruction.
			if fault.ClassName == "" {
				fault.ClassName = frame.Class.Name
				fault.MethodName = frame.Method.Name
				fault.PC = instructionPC
			}
			return false, fault
		}
		return false, newFault(FaultDecode, frame.Class.Name, frame.Method.Name, instructionPC, err.Error())
	}

	thrown, _ := fault.Thrown.(*runtime.Object)
	for i := range frame.Method.Code.ExceptionHandlers {
		h := &frame.Method.Code.ExceptionHandlers[i]
		if instructionPC < int(h.StartPC) || instructionPC >= int(h.EndPC) {
			continue
		}
		if h.CatchType == 0 {
			frame.SP = 0
			frame.Push(runtime.RefValue(thrown))
			frame.PC = int(h.HandlerPC)
			return true, nil
		}
		catchName, cnErr := frame.Class.Resolver().ClassName(h.CatchType)
		if cnErr != nil {
			continue
		}
		if thrown != nil && in.isInstanceOf(thrown.Class, catchName) {
			frame.SP = 0
			frame.Push(runtime.RefValue(thrown))
			frame.PC = int(h.HandlerPC)
			return true, nil
		}
	}
	return false, fault
}

// isInstanceOf walks the super-class chain, loading each ancestor through
// the registry. Catch-type matching and the aastore element-type check are
// the only places this core walks supers; member lookup stays flat.
func (in *Interp) isInstanceOf(class *classload.Class, targetName string) bool {
	for c := class; c != nil; {
		if c.Name == targetName {
			return true
		}
		if c.SuperName == "" {
			return false
		}
		super, err := in.Registry.Load(c.SuperName)
		if err != nil {
			return false
		}
		c = super
	}
	return false
}
