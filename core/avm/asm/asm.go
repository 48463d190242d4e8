// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

// Package asm encodes and decodes AT bytecode.
//
// The encoder validates what can be known statically: operand counts and
// widths, branch offset range, and the declared shape of core function
// codes against the EXT_FUN opcode form used to call them. Violations are
// CompilationErrors and never reach the executor, which re-validates
// everything at run time anyway (raw bytes can always be injected).
package asm

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/probechain/go-at/core/avm"
)

// CompilationError describes an encode-time failure.
type CompilationError struct {
	Offset  int // byte offset (encoding) or input line (assembling)
	Message string
}

func (e *CompilationError) Error() string {
	return fmt.Sprintf("asm: compilation error at %d: %s", e.Offset, e.Message)
}

// Encode renders a single instruction. Args follow the opcode's parameter
// schema in order; for the EXT_FUN family the first arg is the function
// code.
func Encode(op avm.OpCode, args ...int64) ([]byte, error) {
	return encodeAt(0, op, args)
}

func encodeAt(offset int, op avm.OpCode, args []int64) ([]byte, error) {
	if !op.Valid() {
		return nil, &CompilationError{offset, fmt.Sprintf("unknown opcode 0x%02x", uint8(op))}
	}
	params := op.Params()
	if len(args) != len(params) {
		return nil, &CompilationError{offset, fmt.Sprintf("%s takes %d operands, got %d", op, len(params), len(args))}
	}

	out := []byte{byte(op)}
	for i, k := range params {
		v := args[i]
		switch k {
		case avm.ParamValue:
			var b [8]byte
			for j := 0; j < 8; j++ {
				b[j] = byte(uint64(v) >> (56 - 8*j))
			}
			out = append(out, b[:]...)

		case avm.ParamDataAddr:
			if v < 0 || v > math.MaxInt32 {
				return nil, &CompilationError{offset, fmt.Sprintf("%s: data address %d out of range", op, v)}
			}
			out = appendInt32(out, int32(v))

		case avm.ParamCodeAddr:
			if v < math.MinInt32 || v > math.MaxInt32 {
				return nil, &CompilationError{offset, fmt.Sprintf("%s: code address %d out of range", op, v)}
			}
			out = appendInt32(out, int32(v))

		case avm.ParamOffset:
			if v < math.MinInt8 || v > math.MaxInt8 {
				return nil, &CompilationError{offset, fmt.Sprintf("%s: branch offset %d too wide", op, v)}
			}
			out = append(out, byte(int8(v)))

		case avm.ParamFunc:
			if v < 0 || v > math.MaxUint16 {
				return nil, &CompilationError{offset, fmt.Sprintf("%s: function code %d out of range", op, v)}
			}
			fc := avm.FunctionCode(v)
			wantArgs, wantRet := op.ExtShape()
			if params, returns, ok := avm.FunctionShape(fc); ok {
				if params != wantArgs || returns != wantRet {
					return nil, &CompilationError{offset, fmt.Sprintf(
						"%s declares (%d args, returns=%t), cannot encode under %s",
						avm.FunctionName(fc), params, returns, op)}
				}
			} else if fc < avm.PlatformFunctionBase {
				return nil, &CompilationError{offset, fmt.Sprintf("unknown function code 0x%04x", uint16(fc))}
			}
			// Platform codes are declared by the host; their shape is
			// checked at run time.
			out = append(out, byte(v>>8), byte(v))
		}
	}
	return out, nil
}

func appendInt32(out []byte, v int32) []byte {
	return append(out, byte(uint32(v)>>24), byte(uint32(v)>>16), byte(uint32(v)>>8), byte(uint32(v)))
}

// ---- Builder ---------------------------------------------------------------

// Builder accumulates encoded instructions. The first error sticks and is
// reported by Bytes, so call sites can chain Emit without checking each one.
type Builder struct {
	code []byte
	err  error
}

// NewBuilder returns an empty code builder.
func NewBuilder() *Builder { return &Builder{} }

// PC returns the byte offset the next instruction will be encoded at.
func (b *Builder) PC() int { return len(b.code) }

// Emit appends one instruction.
func (b *Builder) Emit(op avm.OpCode, args ...int64) *Builder {
	if b.err != nil {
		return b
	}
	enc, err := encodeAt(len(b.code), op, args)
	if err != nil {
		b.err = err
		return b
	}
	b.code = append(b.code, enc...)
	return b
}

// Bytes returns the accumulated code, or the first encoding error.
func (b *Builder) Bytes() ([]byte, error) {
	if b.err != nil {
		return nil, b.err
	}
	return b.code, nil
}

// ---- Disassembler ----------------------------------------------------------

// Disassemble produces a textual listing of the code segment, one
// instruction per line as "MNEMONIC arg, arg". Function codes print in hex,
// every other operand in signed decimal. Trailing zero padding is not
// listed; the output re-assembles to the input bytes without that padding.
func Disassemble(code []byte) (string, error) {
	var sb strings.Builder
	for off := 0; off < len(code); {
		op := avm.OpCode(code[off])
		if op == 0 && allZero(code[off:]) {
			// Trailing segment padding.
			break
		}
		if !op.Valid() {
			return "", fmt.Errorf("asm: unknown opcode 0x%02x at offset %d", code[off], off)
		}
		if off+op.Size() > len(code) {
			return "", fmt.Errorf("asm: truncated %s at offset %d", op, off)
		}
		sb.WriteString(op.String())
		pos := off + 1
		for i, k := range op.Params() {
			if i == 0 {
				sb.WriteByte(' ')
			} else {
				sb.WriteString(", ")
			}
			switch k {
			case avm.ParamValue:
				var v uint64
				for j := 0; j < 8; j++ {
					v = v<<8 | uint64(code[pos+j])
				}
				fmt.Fprintf(&sb, "%d", int64(v))
			case avm.ParamDataAddr, avm.ParamCodeAddr:
				v := uint32(code[pos])<<24 | uint32(code[pos+1])<<16 | uint32(code[pos+2])<<8 | uint32(code[pos+3])
				fmt.Fprintf(&sb, "%d", int32(v))
			case avm.ParamOffset:
				fmt.Fprintf(&sb, "%d", int8(code[pos]))
			case avm.ParamFunc:
				fmt.Fprintf(&sb, "0x%04x", uint16(code[pos])<<8|uint16(code[pos+1]))
			}
			pos += k.Width()
		}
		sb.WriteByte('\n')
		off += op.Size()
	}
	return sb.String(), nil
}

func allZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

// ---- Assembler -------------------------------------------------------------

var mnemonics = buildMnemonicTable()

func buildMnemonicTable() map[string]avm.OpCode {
	m := make(map[string]avm.OpCode)
	for _, op := range avm.OpCodes() {
		m[op.String()] = op
	}
	return m
}

// Assemble parses a listing in the Disassemble format back into bytecode.
// Blank lines and ";" comments are skipped.
func Assemble(src string) ([]byte, error) {
	b := NewBuilder()
	for lineNo, line := range strings.Split(src, "\n") {
		if i := strings.IndexByte(line, ';'); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.SplitN(line, " ", 2)
		op, ok := mnemonics[fields[0]]
		if !ok {
			return nil, &CompilationError{lineNo + 1, fmt.Sprintf("unknown mnemonic %q", fields[0])}
		}
		var args []int64
		if len(fields) == 2 {
			for _, raw := range strings.Split(fields[1], ",") {
				v, err := strconv.ParseInt(strings.TrimSpace(raw), 0, 64)
				if err != nil {
					return nil, &CompilationError{lineNo + 1, fmt.Sprintf("bad operand %q", strings.TrimSpace(raw))}
				}
				args = append(args, v)
			}
		}
		if b.Emit(op, args...); b.err != nil {
			if ce, ok := b.err.(*CompilationError); ok {
				return nil, &CompilationError{lineNo + 1, ce.Message}
			}
			return nil, b.err
		}
	}
	return b.Bytes()
}
