package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"regvm/vm"
)

// debugMode mirrors the teacher's single-step flag: --debug enters the
// interactive breakpoint REPL instead of free-running to completion.
var debugMode bool

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "regvm [file.ce]",
		Short: "Register-machine bytecode assembler and VM",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return cmd.Help()
			}
			return runImage(args[0])
		},
	}
	root.PersistentFlags().BoolVar(&debugMode, "debug", false, "enter single-step debug mode")
	root.AddCommand(assembleCmd(), runAsmCmd())
	return root
}

func assembleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "assemble <in.casm> <out.ce>",
		Short: "Translate a .casm source file into a .ce bytecode image",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			image, err := assembleFile(args[0])
			if err != nil {
				return err
			}
			if err := os.WriteFile(args[1], image, 0o644); err != nil {
				return errors.Wrapf(err, "writing %s", args[1])
			}
			return nil
		},
	}
}

func runAsmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run-asm <in.casm>",
		Short: "Assemble a .casm source file in memory and execute it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			image, err := assembleFile(args[0])
			if err != nil {
				return err
			}
			return execImage(image)
		},
	}
}

// assembleFile reads and assembles a .casm source file, logging every
// rejected line as a warning (the assembler's default collect-and-
// continue policy) and failing only on a hard link error.
func assembleFile(path string) ([]byte, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", path)
	}

	image, diags, err := vm.Assemble(string(src))
	for _, d := range diags {
		vm.Log.WithFields(map[string]interface{}{"line": d.Line, "text": d.Text}).Warn(d.Err)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "assembling %s", path)
	}
	return image, nil
}

// runImage loads a .ce file straight off disk and executes it.
func runImage(path string) error {
	image, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "reading %s", path)
	}
	return execImage(image)
}

func execImage(image []byte) error {
	machine := vm.New(0, ioHooks())
	machine.LoadProgram(image)

	if debugMode {
		machine.RunProgramDebugMode()
		return nil
	}

	if err := machine.RunProgram(); err != nil {
		return err
	}
	return nil
}

// ioHooks wires the ISA's INPUT/OUTPUT opcodes to the console: a
// blocking decimal read and a line-at-a-time print, per spec.md §6.
func ioHooks() vm.IOHooks {
	reader := bufio.NewReader(os.Stdin)
	return vm.IOHooks{
		ReadInteger: func() (int32, error) {
			fmt.Print("? ")
			line, err := reader.ReadString('\n')
			if err != nil {
				return 0, err
			}
			n, err := strconv.ParseInt(strings.TrimSpace(line), 10, 32)
			if err != nil {
				return 0, errors.Wrap(err, "expected a decimal integer")
			}
			return int32(n), nil
		},
		PrintInteger: func(v int32) {
			fmt.Println(v)
		},
	}
}
