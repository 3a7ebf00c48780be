package vm

import (
	"bufio"
	"fmt"
	"os"
	"runtime/debug"
	"strconv"
	"strings"
)

// RunProgram steps the VM to completion, disabling the garbage collector
// for the duration (the fetch/decode/execute loop allocates nothing of
// its own, and GC pauses during a tight loop like this are pure
// overhead) and restoring whatever GOGC was set to beforehand.
func (v *VM) RunProgram() error {
	prevPercent := lookupGOGC()
	debug.SetGCPercent(-1)
	defer debug.SetGCPercent(prevPercent)

	for v.state != Done && v.state != Faulted {
		if err := v.Step(); err != nil && !isBenignTermination(err) {
			Log.WithFields(map[string]interface{}{"ip": v.IP}).WithError(err).Error("vm faulted")
			return err
		}
	}
	return v.fault
}

func lookupGOGC() int {
	s, ok := os.LookupEnv("GOGC")
	if !ok {
		return 100
	}
	if s == "off" {
		return -1
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 100
	}
	return n
}

// RunProgramDebugMode drives the VM one instruction at a time from an
// interactive prompt: "n"/"next" steps once, "r"/"run" free-runs until a
// breakpoint or termination, "b <ip>" toggles a breakpoint at an
// instruction pointer value, "program" prints the image's size in bytes
// and the current instruction pointer.
func (v *VM) RunProgramDebugMode() {
	fmt.Println("Commands:\n\tn or next: execute next instruction\n\tr or run: run program\n\tb <ip>: toggle breakpoint at instruction pointer")
	v.printState()

	reader := bufio.NewReader(os.Stdin)
	waitForInput := true
	breakpoints := make(map[Word]struct{})
	lastBreak := Word(0xFFFFFFFF)

	for {
		line := ""
		if waitForInput {
			fmt.Print("\n-> ")
			line, _ = reader.ReadString('\n')
			line = strings.ToLower(strings.TrimSpace(line))
		} else if _, hit := breakpoints[v.IP]; hit && lastBreak != v.IP {
			fmt.Println("breakpoint")
			v.printState()
			waitForInput = true
			lastBreak = v.IP
			continue
		}

		switch {
		case !waitForInput || line == "n" || line == "next":
			lastBreak = 0xFFFFFFFF
			err := v.Step()
			if waitForInput {
				v.printState()
			}
			if v.state == Done || v.state == Faulted {
				if err != nil && !isBenignTermination(err) {
					fmt.Println(err)
				}
				return
			}

		case line == "program":
			fmt.Printf("%d bytes, ip=%d\n", len(v.Program), v.IP)

		case line == "r" || line == "run":
			waitForInput = false

		case strings.HasPrefix(line, "b"):
			fields := strings.Fields(line)
			if len(fields) != 2 {
				fmt.Println("usage: b <instruction pointer>")
				continue
			}
			n, err := strconv.ParseUint(fields[1], 10, 32)
			if err != nil {
				fmt.Println("unknown instruction pointer:", err)
				continue
			}
			ip := Word(n)
			if _, ok := breakpoints[ip]; ok {
				delete(breakpoints, ip)
			} else {
				breakpoints[ip] = struct{}{}
			}
		}
	}
}

// isBenignTermination reports whether err is just "ran out of
// instructions" rather than an actual decode/memory/allocator fault.
func isBenignTermination(err error) bool {
	f, ok := err.(*Fault)
	return ok && f.Err == ErrProgramFinished
}

func (v *VM) printState() {
	fmt.Printf("ip=%d state=%s regs=%v\n", v.IP, v.state, v.Regs.slots)
}
