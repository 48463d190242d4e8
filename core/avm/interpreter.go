// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The ProbeChain is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the ProbeChain. If not, see <http://www.gnu.org/licenses/>.

package avm

import (
	"fmt"
	"math"
)

// Interpreter executes opcodes against one MachineState. It owns no state of
// its own beyond the machine and host bindings, so a fresh Interpreter over a
// deserialized machine continues exactly where the previous one left off.
type Interpreter struct {
	state *MachineState
	host  Host
}

// NewInterpreter binds a machine to its host environment.
func NewInterpreter(state *MachineState, host Host) *Interpreter {
	return &Interpreter{state: state, host: host}
}

// NextOpCode returns the opcode the PC currently points at, without
// advancing.
func (s *MachineState) NextOpCode() (OpCode, error) {
	if int(s.pc) >= len(s.code) {
		return 0, fmt.Errorf("%w: PC %d past end of code", ErrCodeUnderflow, s.pc)
	}
	return OpCode(s.code[s.pc]), nil
}

// Step fetches, decodes and executes exactly one opcode. Unless the opcode
// transfers control, the PC afterwards equals the PC before plus the full
// encoded instruction size. Faults are returned to the caller (the Executor)
// which applies the on-error policy.
//
//nolint:gocyclo
func (in *Interpreter) Step() error {
	s := in.state
	pcStart := s.pc

	// ---- Fetch ----
	if int(pcStart) >= len(s.code) {
		return fmt.Errorf("%w: PC %d past end of code", ErrCodeUnderflow, pcStart)
	}
	op := OpCode(s.code[pcStart])
	info, ok := opcodeTable[op]
	if !ok {
		return fmt.Errorf("%w: unknown opcode 0x%02x at %d", ErrIllegalOperation, uint8(op), pcStart)
	}

	// ---- Decode ----
	// Parameters are decoded in schema order. Data addresses are validated
	// here so every handler below can rely on them; code addresses are
	// validated where they are used (ERR_ADR accepts a negative sentinel).
	vals := make([]int64, len(info.params))
	off := pcStart + 1
	for i, k := range info.params {
		switch k {
		case ParamValue:
			v, err := s.codeInt64(off)
			if err != nil {
				return err
			}
			vals[i] = v
		case ParamDataAddr:
			v, err := s.codeInt32(off)
			if err != nil {
				return err
			}
			if err := s.checkDataRange(v, ValueSize); err != nil {
				return err
			}
			vals[i] = int64(v)
		case ParamCodeAddr:
			v, err := s.codeInt32(off)
			if err != nil {
				return err
			}
			vals[i] = int64(v)
		case ParamOffset:
			v, err := s.codeInt8(off)
			if err != nil {
				return err
			}
			vals[i] = int64(v)
		case ParamFunc:
			v, err := s.codeUint16(off)
			if err != nil {
				return err
			}
			vals[i] = int64(v)
		}
		off += uint32(k.Width())
	}
	s.pc = off // control-flow opcodes overwrite this below

	// ---- Execute ----
	switch op {
	case OpNop:

	case OpSetVal:
		return s.PutDataLong(int32(vals[0]), vals[1])

	case OpSetDat:
		v, err := s.GetDataLong(int32(vals[1]))
		if err != nil {
			return err
		}
		return s.PutDataLong(int32(vals[0]), v)

	case OpClrDat:
		return s.PutDataLong(int32(vals[0]), 0)

	case OpIncDat:
		return in.modifyCell(vals[0], func(v int64) (int64, error) { return v + 1, nil })

	case OpDecDat:
		return in.modifyCell(vals[0], func(v int64) (int64, error) { return v - 1, nil })

	case OpAddDat, OpSubDat, OpMulDat, OpDivDat, OpModDat,
		OpBorDat, OpAndDat, OpXorDat, OpShlDat, OpShrDat:
		rhs, err := s.GetDataLong(int32(vals[1]))
		if err != nil {
			return err
		}
		return in.modifyCell(vals[0], func(v int64) (int64, error) { return binaryOp(op, v, rhs) })

	case OpAddVal, OpSubVal, OpMulVal, OpDivVal, OpShlVal, OpShrVal:
		return in.modifyCell(vals[0], func(v int64) (int64, error) { return binaryOp(op, v, vals[1]) })

	case OpNotDat:
		return in.modifyCell(vals[0], func(v int64) (int64, error) { return ^v, nil })

	case OpSetInd:
		ptr, err := s.GetDataLong(int32(vals[1]))
		if err != nil {
			return err
		}
		v, err := s.GetDataLong(int32(ptr))
		if err != nil {
			return err
		}
		return s.PutDataLong(int32(vals[0]), v)

	case OpSetIdx:
		base, err := s.GetDataLong(int32(vals[1]))
		if err != nil {
			return err
		}
		idx, err := s.GetDataLong(int32(vals[2]))
		if err != nil {
			return err
		}
		v, err := s.GetDataLong(int32(base + idx))
		if err != nil {
			return err
		}
		return s.PutDataLong(int32(vals[0]), v)

	case OpIndDat:
		ptr, err := s.GetDataLong(int32(vals[0]))
		if err != nil {
			return err
		}
		v, err := s.GetDataLong(int32(vals[1]))
		if err != nil {
			return err
		}
		return s.PutDataLong(int32(ptr), v)

	case OpIdxDat:
		base, err := s.GetDataLong(int32(vals[0]))
		if err != nil {
			return err
		}
		idx, err := s.GetDataLong(int32(vals[1]))
		if err != nil {
			return err
		}
		v, err := s.GetDataLong(int32(vals[2]))
		if err != nil {
			return err
		}
		return s.PutDataLong(int32(base+idx), v)

	case OpPshDat:
		v, err := s.GetDataLong(int32(vals[0]))
		if err != nil {
			return err
		}
		return s.pushUser(v)

	case OpPopDat:
		v, err := s.popUser()
		if err != nil {
			return err
		}
		return s.PutDataLong(int32(vals[0]), v)

	case OpJmpSub:
		if err := s.pushCall(off); err != nil {
			return err
		}
		return in.jump(vals[0])

	case OpRetSub:
		ret, err := s.popCall()
		if err != nil {
			return err
		}
		return in.jump(int64(ret))

	case OpJmpAdr:
		return in.jump(vals[0])

	case OpBzrDat, OpBnzDat:
		v, err := s.GetDataLong(int32(vals[0]))
		if err != nil {
			return err
		}
		if (op == OpBzrDat) == (v == 0) {
			return in.jump(int64(pcStart) + vals[1])
		}

	case OpBgtDat, OpBltDat, OpBgeDat, OpBleDat, OpBeqDat, OpBneDat:
		a, err := s.GetDataLong(int32(vals[0]))
		if err != nil {
			return err
		}
		b, err := s.GetDataLong(int32(vals[1]))
		if err != nil {
			return err
		}
		if branchTaken(op, a, b) {
			return in.jump(int64(pcStart) + vals[2])
		}

	case OpFinImd:
		s.finished = true

	case OpFizDat:
		v, err := s.GetDataLong(int32(vals[0]))
		if err != nil {
			return err
		}
		if v == 0 {
			s.finished = true
		}

	case OpStpImd:
		s.stopped = true
		s.pc = s.onStopAddr

	case OpStzDat:
		v, err := s.GetDataLong(int32(vals[0]))
		if err != nil {
			return err
		}
		if v == 0 {
			s.stopped = true
			s.pc = s.onStopAddr
		}

	case OpSlpImd:
		s.sleeping = true
		s.sleepUntil = in.host.CurrentBlockHeight() + 1

	case OpSlpVal:
		s.sleeping = true
		s.sleepUntil = in.host.CurrentBlockHeight() + int32(vals[0])

	case OpSlpDat:
		h, err := s.GetDataLong(int32(vals[0]))
		if err != nil {
			return err
		}
		s.sleeping = true
		s.sleepUntil = int32(h)

	case OpSetPcs:
		s.onStopAddr = off

	case OpErrAdr:
		if vals[0] < 0 {
			s.onErrorAddr = -1
			break
		}
		if vals[0] >= int64(len(s.code)) {
			return fmt.Errorf("%w: error handler at %d", ErrInvalidAddress, vals[0])
		}
		s.onErrorAddr = int32(vals[0])

	case OpExtFun, OpExtFunDat, OpExtFunDat2, OpExtFunRet,
		OpExtFunRetDat, OpExtFunRetDat2, OpExtFunVal:
		return in.callFunction(op, info, vals, pcStart)
	}

	return nil
}

// callFunction dispatches an EXT_FUN-family opcode: shape verification, core
// or platform execution, the two-phase sleep protocol and return storage.
func (in *Interpreter) callFunction(op OpCode, info opcodeInfo, vals []int64, pcStart uint32) error {
	s := in.state
	fc := FunctionCode(uint16(vals[0]))
	paramVals := vals[1:]

	var retAddr int32
	if info.extRet {
		retAddr = int32(paramVals[0])
		paramVals = paramVals[1:]
	}

	// Collect arguments: cell contents for the DAT forms, the immediate for
	// EXT_FUN_VAL.
	args := make([]int64, info.extArgs)
	for i := range args {
		if op == OpExtFunVal {
			args[i] = paramVals[i]
			continue
		}
		v, err := s.GetDataLong(int32(paramVals[i]))
		if err != nil {
			return err
		}
		args[i] = v
	}

	wasSleeping := s.sleeping

	var ret int64
	fn, ok := functionTable[fc]
	switch {
	case ok:
		if fn.params != info.extArgs || fn.returns != info.extRet {
			return fmt.Errorf("%w: %s declares (%d args, returns=%t), called via %s",
				ErrIllegalFunctionCode, fn.name, fn.params, fn.returns, info.name)
		}
		var err error
		if ret, err = fn.handler(in, args); err != nil {
			return err
		}

	case fc >= PlatformFunctionBase:
		if err := in.host.PlatformSpecificPreExecuteCheck(info.extArgs, info.extRet, s, uint16(fc)); err != nil {
			return fmt.Errorf("%w: platform code 0x%04x: %v", ErrIllegalFunctionCode, uint16(fc), err)
		}
		var err error
		if ret, err = in.host.PlatformSpecificPostCheckExecute(args, s, uint16(fc)); err != nil {
			return err
		}

	default:
		return fmt.Errorf("%w: 0x%04x", ErrIllegalFunctionCode, uint16(fc))
	}

	// A function that put the machine to sleep (phase one of a two-phase
	// call) is re-executed from scratch on wake-up; its return value, if
	// any, is discarded for now.
	if s.sleeping && !wasSleeping {
		s.pc = pcStart
		return nil
	}

	if info.extRet {
		return s.PutDataLong(retAddr, ret)
	}
	return nil
}

// jump validates target and moves the PC there.
func (in *Interpreter) jump(target int64) error {
	if target < 0 || target >= int64(len(in.state.code)) {
		return fmt.Errorf("%w: jump target %d", ErrInvalidAddress, target)
	}
	in.state.pc = uint32(target)
	return nil
}

// modifyCell applies f to the cell at idx and stores the result back.
func (in *Interpreter) modifyCell(idx int64, f func(int64) (int64, error)) error {
	cur, err := in.state.GetDataLong(int32(idx))
	if err != nil {
		return err
	}
	v, err := f(cur)
	if err != nil {
		return err
	}
	return in.state.PutDataLong(int32(idx), v)
}

// binaryOp evaluates a two-operand ALU opcode. Add, subtract and multiply
// wrap two's-complement; shifts of 64 bits or more yield zero and the right
// shift is logical; division and modulo by zero fault.
func binaryOp(op OpCode, a, b int64) (int64, error) {
	switch op {
	case OpAddDat, OpAddVal:
		return a + b, nil
	case OpSubDat, OpSubVal:
		return a - b, nil
	case OpMulDat, OpMulVal:
		return a * b, nil
	case OpDivDat, OpDivVal:
		if b == 0 {
			return 0, fmt.Errorf("%w: division by zero", ErrIllegalOperation)
		}
		if a == math.MinInt64 && b == -1 {
			return math.MinInt64, nil // wraps, like ADD and MUL
		}
		return a / b, nil
	case OpModDat:
		if b == 0 {
			return 0, fmt.Errorf("%w: modulo by zero", ErrIllegalOperation)
		}
		if a == math.MinInt64 && b == -1 {
			return 0, nil
		}
		return a % b, nil
	case OpBorDat:
		return a | b, nil
	case OpAndDat:
		return a & b, nil
	case OpXorDat:
		return a ^ b, nil
	case OpShlDat, OpShlVal:
		if uint64(b) >= 64 {
			return 0, nil
		}
		return a << uint(b), nil
	case OpShrDat, OpShrVal:
		if uint64(b) >= 64 {
			return 0, nil
		}
		return int64(uint64(a) >> uint(b)), nil
	}
	return 0, fmt.Errorf("%w: opcode %s is not an ALU operation", ErrIllegalOperation, op)
}

// branchTaken evaluates a two-cell branch condition as a signed 64-bit
// comparison.
func branchTaken(op OpCode, a, b int64) bool {
	switch op {
	case OpBgtDat:
		return a > b
	case OpBltDat:
		return a < b
	case OpBgeDat:
		return a >= b
	case OpBleDat:
		return a <= b
	case OpBeqDat:
		return a == b
	case OpBneDat:
		return a != b
	}
	return false
}
