package vm

import (
	"fmt"

	"github.com/pkg/errors"
)

// Sentinel VM errors. Call sites wrap these with errors.Wrapf so
// errors.Is still matches the sentinel while the printed error carries
// instruction/address context.
var (
	ErrProgramFinished   = errors.New("ran out of instructions")
	ErrSegmentationFault = errors.New("segmentation fault")
	ErrIllegalOperation  = errors.New("illegal operation at instruction")
	ErrUnknownOpcode     = errors.New("instruction not recognized")
	ErrDecodeFault       = errors.New("decode fault")
	ErrIO                = errors.New("input-output error")
	ErrMemoryLimit       = errors.New("memory region would exceed its configured maximum size")
	ErrAllocator         = errors.New("allocator error")

	// ErrParse and ErrUndefinedLabel belong to the assembler rather than
	// the VM, but live alongside the rest of the taxonomy per spec.md §7's
	// single error table.
	ErrParse          = errors.New("assembly parse error")
	ErrUndefinedLabel = errors.New("undefined label")
)

// Fault decorates a sentinel VM error with the instruction pointer the
// fault occurred at, so a driver can print "<error> at instruction <ip>"
// without every call site formatting that by hand.
type Fault struct {
	IP   Word
	Err  error
}

func (f *Fault) Error() string {
	return fmt.Sprintf("%s (at instruction %d)", f.Err, f.IP)
}

func (f *Fault) Unwrap() error {
	return f.Err
}

func newFault(ip Word, err error) *Fault {
	return &Fault{IP: ip, Err: err}
}
