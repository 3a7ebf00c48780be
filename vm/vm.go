package vm

import (
	"github.com/pkg/errors"
)

// State is one of the VM's four lifecycle states.
type State int

const (
	Loaded State = iota
	Running
	Done
	Faulted
)

func (s State) String() string {
	switch s {
	case Loaded:
		return "loaded"
	case Running:
		return "running"
	case Done:
		return "done"
	case Faulted:
		return "faulted"
	default:
		return "unknown"
	}
}

// IOHooks are the host-provided input/output primitives the ISA treats
// as external collaborators: a blocking integer read and a line-at-a-time
// integer print.
type IOHooks struct {
	ReadInteger  func() (int32, error)
	PrintInteger func(int32)
}

// VM is a single-threaded register-machine interpreter. It owns its
// register file, RAM and program image outright; none of the three is
// shared with anything else while a step is in flight.
type VM struct {
	Regs    *RegisterFile
	RAM     *RAM
	Program []byte
	IP      Word
	state   State
	fault   error
	io      IOHooks
}

// New constructs a VM with a fresh register file and RAM, in the Loaded
// state, with no program yet.
func New(maxRegionSize Word, io IOHooks) *VM {
	return &VM{
		Regs:  NewRegisterFile(),
		RAM:   NewRAM(maxRegionSize),
		state: Loaded,
		io:    io,
	}
}

// LoadProgram installs a new program image, resets IP to 0 and returns
// the VM to Loaded. Registers and RAM are left as they are: a driver
// that wants a clean slate constructs a new VM.
func (v *VM) LoadProgram(image []byte) {
	v.Program = image
	v.IP = 0
	v.state = Loaded
	v.fault = nil
}

// State reports the VM's current lifecycle state.
func (v *VM) State() State { return v.state }

// Fault returns the error that moved the VM to Faulted, or nil.
func (v *VM) Fault() error { return v.fault }

// Step fetches, decodes and executes one instruction. Calling Step once
// the VM is Done or Faulted is a no-op: a Done VM returns
// ErrProgramFinished and a Faulted VM returns its fault, letting a driver
// loop on Step without special-casing the first call.
func (v *VM) Step() error {
	if v.state == Done {
		return ErrProgramFinished
	}
	if v.state == Faulted {
		return v.fault
	}
	if v.IP >= Word(len(v.Program)) {
		return v.failAt(ErrProgramFinished)
	}

	v.state = Running
	if err := v.execNext(); err != nil {
		if errors.Is(err, errProgramHalted) {
			v.state = Done
			return nil
		}
		return v.failAt(err)
	}
	return nil
}

func (v *VM) failAt(err error) error {
	v.state = Faulted
	v.fault = newFault(v.IP, err)
	return v.fault
}

// errProgramHalted is an internal sentinel distinguishing a HALT
// instruction (normal termination, state Done) from every other fault
// path (state Faulted). It never escapes the package.
var errProgramHalted = errors.New("halt")
