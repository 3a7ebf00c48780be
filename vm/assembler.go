package vm

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// LineError names a single rejected source line: its trimmed text, the
// 1-indexed line number, and why it was rejected. The assembler's
// default policy collects these and keeps emitting (spec.md §4.7/§7);
// Assembler.Strict turns the first one into an immediate failure.
type LineError struct {
	Line int
	Text string
	Err  error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("line %d: %s: %v", e.Line, e.Text, e.Err)
}

func (e *LineError) Unwrap() error { return e.Err }

// pendingFixup is a LOD32 immediate waiting on a label that hadn't been
// defined yet when it was emitted.
type pendingFixup struct {
	offset Word // position of the 4-byte immediate, one past the opcode byte
	name   string
}

// Assembler is a single-pass, line-oriented translator from the source
// grammar in spec.md §4.7 to the bytecode image spec.md §4.6 decodes.
// Label definitions and references may appear in either order: a
// forward reference is recorded in pending and patched once the whole
// source has been scanned.
type Assembler struct {
	// Strict switches the per-line error policy from "collect and
	// continue" (the default, matching the original prototype) to
	// "fail on the first bad line".
	Strict bool

	out         []byte
	labels      map[string]Word
	pending     []pendingFixup
	Diagnostics []LineError
}

// NewAssembler returns an empty assembler ready to translate a program.
func NewAssembler() *Assembler {
	return &Assembler{
		labels: make(map[string]Word),
	}
}

// Assemble translates source into a bytecode image. Per-line failures
// are collected in a.Diagnostics and the offending line is skipped
// unless a.Strict is set, in which case Assemble returns the first one
// immediately. An undefined label at fixup time always fails the whole
// assembly, strict or not, per spec.md §7's Link row.
func Assemble(source string) ([]byte, []LineError, error) {
	a := NewAssembler()
	return a.Assemble(source)
}

func (a *Assembler) Assemble(source string) ([]byte, []LineError, error) {
	if a.labels == nil {
		a.labels = make(map[string]Word)
	}
	for i, raw := range strings.Split(source, "\n") {
		lineNo := i + 1
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "//") {
			continue
		}

		if name, ok := labelDefinition(line); ok {
			if _, dup := a.labels[name]; dup {
				if err := a.reject(lineNo, line, errors.Wrapf(ErrParse, "label %q redefined", name)); err != nil {
					return nil, a.Diagnostics, err
				}
				continue
			}
			a.labels[name] = Word(len(a.out))
			continue
		}

		fields := tokenize(line)
		if err := a.assembleLine(fields); err != nil {
			if err := a.reject(lineNo, line, err); err != nil {
				return nil, a.Diagnostics, err
			}
		}
	}

	for _, fx := range a.pending {
		target, ok := a.labels[fx.name]
		if !ok {
			return nil, a.Diagnostics, errors.Wrapf(ErrUndefinedLabel, "label %q", fx.name)
		}
		binary.BigEndian.PutUint32(a.out[fx.offset:fx.offset+4], target)
	}

	return a.out, a.Diagnostics, nil
}

func (a *Assembler) reject(line int, text string, err error) error {
	a.Diagnostics = append(a.Diagnostics, LineError{Line: line, Text: text, Err: err})
	if a.Strict {
		return &a.Diagnostics[len(a.Diagnostics)-1]
	}
	return nil
}

// isLabelChar reports whether r is in the set of characters a label name
// may be built from: uppercase letters, digits, underscore.
func isLabelChar(r byte) bool {
	return (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_'
}

func isLabelName(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !isLabelChar(s[i]) {
			return false
		}
	}
	return true
}

// labelDefinition reports whether line is exactly a label definition: a
// single token ending in ':' whose preceding characters are all from
// the label charset.
func labelDefinition(line string) (string, bool) {
	fields := strings.Fields(line)
	if len(fields) != 1 || !strings.HasSuffix(fields[0], ":") {
		return "", false
	}
	name := strings.TrimSuffix(fields[0], ":")
	if !isLabelName(name) {
		return "", false
	}
	return name, true
}

// tokenize splits a line on whitespace and drops the filler tokens
// spec.md §4.7 says are "consumed but ignored" ("<-", ";"). "if" and
// "always" are left in place since jmp's grammar uses them to select
// its two forms.
func tokenize(line string) []string {
	fields := strings.Fields(line)
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f == "<-" || f == ";" {
			continue
		}
		out = append(out, f)
	}
	return out
}

func (a *Assembler) assembleLine(f []string) error {
	if len(f) == 0 {
		return nil
	}
	mnemonic := f[0]

	if op, ok := ternaryMnemonics[mnemonic]; ok {
		return a.assembleTernary(op, f)
	}

	switch mnemonic {
	case "neg", "not":
		return a.assembleUnaryArith(mnemonic, f)
	case "mov":
		return a.assembleMov(f)
	case "lod":
		return a.assembleLod(f)
	case "cmp":
		return a.assembleCmp(f)
	case "jmp":
		return a.assembleJmp(f)
	case "memcpy":
		return a.assembleMemcpy(f)
	case "new":
		return a.assembleNew(f)
	case "del":
		return a.assembleDel(f)
	case "input":
		return a.assembleInput(f)
	case "output":
		return a.assembleOutput(f)
	case "halt":
		return a.assembleHalt(f)
	default:
		return errors.Wrapf(ErrParse, "unknown mnemonic %q", mnemonic)
	}
}

var ternaryMnemonics = map[string]TernaryOp{
	"xor": OpXor, "or": OpOr, "and": OpAnd,
	"shl": OpShl, "shr": OpShr,
	"mul": OpMul, "add": OpAdd, "sub": OpSub, "div": OpDiv, "mod": OpMod,
}

// xor|or|and|shl|shr|mul|add|sub|div|mod <ty> <dst> <- <src1> ; <src2>
func (a *Assembler) assembleTernary(op TernaryOp, f []string) error {
	if len(f) != 5 {
		return errors.Wrapf(ErrParse, "%s wants <ty> <dst> <- <src1> ; <src2>", f[0])
	}
	t, err := parseType(f[1])
	if err != nil {
		return err
	}
	if integerOnly(op) && !t.IsInteger() {
		return errors.Wrapf(ErrParse, "%s does not support type f32", f[0])
	}
	dst, err := parseLocation(f[2])
	if err != nil {
		return err
	}
	src1, err := parseLocation(f[3])
	if err != nil {
		return err
	}
	src2, err := parseLocation(f[4])
	if err != nil {
		return err
	}
	a.emitTernary(TernaryInstruction{Op: op, Type: t, Src1: src1, Src2: src2, Dst: dst})
	return nil
}

// neg|not <ty> <dst> <- <src>
func (a *Assembler) assembleUnaryArith(mnemonic string, f []string) error {
	if len(f) != 4 {
		return errors.Wrapf(ErrParse, "%s wants <ty> <dst> <- <src>", mnemonic)
	}
	t, err := parseType(f[1])
	if err != nil {
		return err
	}
	if mnemonic == "not" && !t.IsInteger() {
		return errors.Wrap(ErrParse, "not does not support type f32")
	}
	dst, err := parseLocation(f[2])
	if err != nil {
		return err
	}
	src, err := parseLocation(f[3])
	if err != nil {
		return err
	}
	op := OpNeg
	if mnemonic == "not" {
		op = OpNot
	}
	a.append2(byte(op)<<4|(byte(t)<<2), byte(src)<<4|byte(dst))
	return nil
}

// mov <dst_ty> <dst> <- <src_ty> <src>
func (a *Assembler) assembleMov(f []string) error {
	if len(f) != 5 {
		return errors.Wrap(ErrParse, "mov wants <dst_ty> <dst> <- <src_ty> <src>")
	}
	dstTy, err := parseType(f[1])
	if err != nil {
		return err
	}
	dst, err := parseLocation(f[2])
	if err != nil {
		return err
	}
	srcTy, err := parseType(f[3])
	if err != nil {
		return err
	}
	src, err := parseLocation(f[4])
	if err != nil {
		return err
	}
	a.append2(byte(OpMov)<<4|byte(srcTy)<<2|byte(dstTy), byte(src)<<4|byte(dst))
	return nil
}

// lod <dst> <- b|s|i|f <literal>  |  lod <dst> <- <LABEL>
func (a *Assembler) assembleLod(f []string) error {
	if len(f) < 3 {
		return errors.Wrap(ErrParse, "lod wants <dst> <- <literal or label>")
	}
	dst, err := parseLocation(f[1])
	if err != nil {
		return err
	}

	if len(f) == 4 {
		if t, ok := parseTypeTokenOnly(f[2]); ok {
			return a.emitLodLiteral(dst, t, f[3])
		}
	}
	if len(f) != 3 {
		return errors.Wrap(ErrParse, "lod wants <dst> <- b|s|i|f <literal> or <dst> <- <LABEL>")
	}
	name := f[2]
	if !isLabelName(name) {
		return errors.Wrapf(ErrParse, "lod: %q is neither a literal nor a label", name)
	}
	a.emitLabelLod32(dst, name)
	return nil
}

func (a *Assembler) emitLodLiteral(dst Location, t TypeTag, literal string) error {
	switch t {
	case TypeI8:
		v, err := parseIntLiteral(literal)
		if err != nil {
			return errors.Wrapf(ErrParse, "bad integer literal %q: %v", literal, err)
		}
		if v < -128 || v > 255 {
			return errors.Wrapf(ErrParse, "literal %q does not fit in 8 bits", literal)
		}
		a.append2(byte(OpLod8)<<4|byte(dst), byte(v))
		return nil
	case TypeI16:
		v, err := parseIntLiteral(literal)
		if err != nil {
			return errors.Wrapf(ErrParse, "bad integer literal %q: %v", literal, err)
		}
		if v < -32768 || v > 65535 {
			return errors.Wrapf(ErrParse, "literal %q does not fit in 16 bits", literal)
		}
		b := make([]byte, 3)
		b[0] = byte(OpLod16)<<4 | byte(dst)
		binary.BigEndian.PutUint16(b[1:], uint16(v))
		a.out = append(a.out, b...)
		return nil
	case TypeI32:
		v, err := parseIntLiteral(literal)
		if err != nil {
			return errors.Wrapf(ErrParse, "bad integer literal %q: %v", literal, err)
		}
		if v < math.MinInt32 || v > math.MaxUint32 {
			return errors.Wrapf(ErrParse, "literal %q does not fit in 32 bits", literal)
		}
		a.emitLod32Raw(dst, uint32(v))
		return nil
	case TypeF32:
		fv, err := strconv.ParseFloat(literal, 32)
		if err != nil {
			return errors.Wrapf(ErrParse, "bad float literal %q: %v", literal, err)
		}
		a.emitLod32Raw(dst, math.Float32bits(float32(fv)))
		return nil
	default:
		return errors.Wrapf(ErrParse, "unknown literal type for %q", literal)
	}
}

func (a *Assembler) emitLod32Raw(dst Location, bits uint32) {
	b := make([]byte, 5)
	b[0] = byte(OpLod32)<<4 | byte(dst)
	binary.BigEndian.PutUint32(b[1:], bits)
	a.out = append(a.out, b...)
}

// emitLabelLod32 emits a LOD32 with a zero placeholder and records the
// fixup. Per DESIGN.md/spec.md §9, the 4-byte immediate starts exactly
// one byte past the opcode byte.
func (a *Assembler) emitLabelLod32(dst Location, name string) {
	opcodeOffset := Word(len(a.out))
	a.emitLod32Raw(dst, 0)
	a.pending = append(a.pending, pendingFixup{offset: opcodeOffset + 1, name: name})
}

// cmp <dst> <- <ty> <src> <cond>
func (a *Assembler) assembleCmp(f []string) error {
	if len(f) != 5 {
		return errors.Wrap(ErrParse, "cmp wants <dst> <- <ty> <src> <cond>")
	}
	dst, err := parseLocation(f[1])
	if err != nil {
		return err
	}
	t, err := parseType(f[2])
	if err != nil {
		return err
	}
	src, err := parseLocation(f[3])
	if err != nil {
		return err
	}
	cond, err := parseCond(f[4])
	if err != nil {
		return err
	}
	a.emitTernary(TernaryInstruction{Op: OpCmp, Type: t, Src1: src, Dst: dst, CmpCond: cond})
	return nil
}

// jmp <tgt> always  |  jmp <tgt> if <ty> <src> <cond>
func (a *Assembler) assembleJmp(f []string) error {
	if len(f) < 3 {
		return errors.Wrap(ErrParse, "jmp wants <tgt> always or <tgt> if <ty> <src> <cond>")
	}
	tgt, err := parseLocation(f[1])
	if err != nil {
		return err
	}
	switch f[2] {
	case "always":
		if len(f) != 3 {
			return errors.Wrap(ErrParse, "jmp ... always takes no further operands")
		}
		// CondAlway ignores the source's sign, but the decoder still
		// reads it, so wire up a harmless placeholder: SP, read as i32.
		a.emitTernary(TernaryInstruction{Op: OpJmp, Type: TypeI32, Src1: Location(SP), Dst: tgt, CmpCond: CondAlway})
		return nil
	case "if":
		if len(f) != 6 {
			return errors.Wrap(ErrParse, "jmp ... if wants <ty> <src> <cond>")
		}
		t, err := parseType(f[3])
		if err != nil {
			return err
		}
		src, err := parseLocation(f[4])
		if err != nil {
			return err
		}
		cond, err := parseCond(f[5])
		if err != nil {
			return err
		}
		a.emitTernary(TernaryInstruction{Op: OpJmp, Type: t, Src1: src, Dst: tgt, CmpCond: cond})
		return nil
	default:
		return errors.Wrapf(ErrParse, "jmp: expected \"always\" or \"if\", got %q", f[2])
	}
}

// memcpy <dst> <- <src> ; <size>
func (a *Assembler) assembleMemcpy(f []string) error {
	if len(f) != 4 {
		return errors.Wrap(ErrParse, "memcpy wants <dst> <- <src> ; <size>")
	}
	dst, err := parseLocation(f[1])
	if err != nil {
		return err
	}
	src, err := parseLocation(f[2])
	if err != nil {
		return err
	}
	size, err := parseLocation(f[3])
	if err != nil {
		return err
	}
	a.append2(byte(OpMemcpy)<<4|byte(size), byte(src)<<4|byte(dst))
	return nil
}

// new <dst> <- <size>
func (a *Assembler) assembleNew(f []string) error {
	if len(f) != 3 {
		return errors.Wrap(ErrParse, "new wants <dst> <- <size>")
	}
	dst, err := parseLocation(f[1])
	if err != nil {
		return err
	}
	size, err := parseLocation(f[2])
	if err != nil {
		return err
	}
	a.append2(byte(OpNew)<<4, byte(size)<<4|byte(dst))
	return nil
}

// del <src>
func (a *Assembler) assembleDel(f []string) error {
	if len(f) != 2 {
		return errors.Wrap(ErrParse, "del wants <src>")
	}
	src, err := parseLocation(f[1])
	if err != nil {
		return err
	}
	a.out = append(a.out, byte(OpDel)<<4|byte(src))
	return nil
}

// input <- <dst>
func (a *Assembler) assembleInput(f []string) error {
	if len(f) != 2 {
		return errors.Wrap(ErrParse, "input wants <- <dst>")
	}
	dst, err := parseLocation(f[1])
	if err != nil {
		return err
	}
	a.out = append(a.out, byte(OpInput)<<4|byte(dst))
	return nil
}

// output <- <src>
func (a *Assembler) assembleOutput(f []string) error {
	if len(f) != 2 {
		return errors.Wrap(ErrParse, "output wants <- <src>")
	}
	src, err := parseLocation(f[1])
	if err != nil {
		return err
	}
	a.out = append(a.out, byte(OpOutput)<<4|byte(src))
	return nil
}

func (a *Assembler) assembleHalt(f []string) error {
	if len(f) != 1 {
		return errors.Wrap(ErrParse, "halt takes no operands")
	}
	a.out = append(a.out, byte(OpHalt)<<4)
	return nil
}

func (a *Assembler) emitTernary(inst TernaryInstruction) {
	b := make([]byte, 3)
	EncodeTernary(b, inst)
	a.out = append(a.out, b...)
}

func (a *Assembler) append2(b0, b1 byte) {
	a.out = append(a.out, b0, b1)
}

// parseLocation recognizes "sp", "r1".."r7" and their "@"-prefixed
// indirect forms.
func parseLocation(tok string) (Location, error) {
	indirect := false
	name := tok
	if strings.HasPrefix(name, "@") {
		indirect = true
		name = name[1:]
	}

	var reg int
	switch {
	case name == "sp":
		reg = SP
	case len(name) == 2 && name[0] == 'r' && name[1] >= '1' && name[1] <= '7':
		reg = int(name[1] - '0')
	default:
		return 0, errors.Wrapf(ErrParse, "unknown location %q", tok)
	}

	loc := Location(reg)
	if indirect {
		loc |= 0b1000
	}
	return loc, nil
}

func parseType(tok string) (TypeTag, error) {
	if t, ok := parseTypeTokenOnly(tok); ok {
		return t, nil
	}
	return 0, errors.Wrapf(ErrParse, "unknown type %q", tok)
}

func parseTypeTokenOnly(tok string) (TypeTag, bool) {
	switch tok {
	case "b":
		return TypeI8, true
	case "s":
		return TypeI16, true
	case "i":
		return TypeI32, true
	case "f":
		return TypeF32, true
	default:
		return 0, false
	}
}

func parseCond(tok string) (Cond, error) {
	switch tok {
	case ">":
		return CondGT, nil
	case "==":
		return CondEQ, nil
	case ">=":
		return CondGE, nil
	case "<":
		return CondLT, nil
	case "!=":
		return CondNE, nil
	case "<=":
		return CondLE, nil
	default:
		return 0, errors.Wrapf(ErrParse, "unknown condition %q", tok)
	}
}

// parseIntLiteral accepts decimal (optionally signed) or 0x-prefixed
// hex, returning the value widened into an int64 so callers can range-
// check it against the destination type's window before truncating.
func parseIntLiteral(tok string) (int64, error) {
	neg := false
	s := tok
	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		v, err := strconv.ParseUint(s[2:], 16, 64)
		if err != nil {
			return 0, err
		}
		if neg {
			return -int64(v), nil
		}
		return int64(v), nil
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, err
	}
	if neg {
		return -int64(v), nil
	}
	return int64(v), nil
}
