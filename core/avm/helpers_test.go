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
	"testing"
)

// ---- Bytecode builder helpers ----------------------------------------------
// Tests assemble raw big-endian bytecode by hand so that injected bytes,
// not just encoder output, exercise the decoder.

func op(o OpCode) []byte { return []byte{byte(o)} }

func addr(v int32) []byte {
	return []byte{byte(uint32(v) >> 24), byte(uint32(v) >> 16), byte(uint32(v) >> 8), byte(uint32(v))}
}

func val64(v int64) []byte {
	out := make([]byte, 8)
	for i := 0; i < 8; i++ {
		out[i] = byte(uint64(v) >> (56 - 8*i))
	}
	return out
}

func off8(v int8) []byte { return []byte{byte(v)} }

func fn16(fc FunctionCode) []byte { return []byte{byte(fc >> 8), byte(fc)} }

func program(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// newTestMachine builds a machine over the given code with dataCells zeroed
// data cells and 64-byte stacks: eight user-stack entries and sixteen
// call-stack entries.
func newTestMachine(t *testing.T, code []byte, dataCells int) *MachineState {
	t.Helper()
	image, err := BuildImage(code, make([]byte, dataCells*ValueSize), 64, 64)
	if err != nil {
		t.Fatalf("BuildImage: %v", err)
	}
	s, err := NewMachineState(image, 1, 0)
	if err != nil {
		t.Fatalf("NewMachineState: %v", err)
	}
	return s
}

// mustGetData reads a cell and fails the test on a bounds error.
func mustGetData(t *testing.T, s *MachineState, idx int32) int64 {
	t.Helper()
	v, err := s.GetDataLong(idx)
	if err != nil {
		t.Fatalf("GetDataLong(%d): %v", idx, err)
	}
	return v
}

// mustPutData writes a cell and fails the test on a bounds error.
func mustPutData(t *testing.T, s *MachineState, idx int32, v int64) {
	t.Helper()
	if err := s.PutDataLong(idx, v); err != nil {
		t.Fatalf("PutDataLong(%d): %v", idx, err)
	}
}

// ---- Mock host -------------------------------------------------------------

type mockPayment struct {
	to     [RegisterSize]byte
	amount int64
}

type mockPlatformFn struct {
	params  int
	returns bool
	execute func(args []int64, s *MachineState) (int64, error)
}

// mockHost is a minimal deterministic Host for interpreter and executor
// tests. The zero value plus newMockHost defaults suffice for most cases;
// tests poke individual fields to steer behavior.
type mockHost struct {
	height     int32
	maxSteps   int32
	feePerStep int64

	prevHash [RegisterSize]byte
	txID     [RegisterSize]byte
	txType   int64
	txAmount int64
	txTs     int64
	message  [RegisterSize]byte
	sender   [RegisterSize]byte
	creator  [RegisterSize]byte
	random   int64

	payments      []mockPayment
	messagesSent  int
	finishedCalls int
	finishedBal   int64
	fatalErr      error

	platform map[uint16]mockPlatformFn
}

func newMockHost() *mockHost {
	return &mockHost{
		height:     1,
		maxSteps:   1000,
		feePerStep: 1,
		platform:   make(map[uint16]mockPlatformFn),
	}
}

func (h *mockHost) CurrentBlockHeight() int32 { return h.height }

func (h *mockHost) PutPreviousBlockHashIntoA(s *MachineState) { s.SetABytes(h.prevHash) }

func (h *mockHost) PutTransactionAfterTimestampIntoA(ts int64, s *MachineState) {
	if h.txTs > ts {
		s.SetABytes(h.txID)
		return
	}
	s.SetABytes([RegisterSize]byte{})
}

func (h *mockHost) TypeFromTransactionInA(s *MachineState) int64      { return h.txType }
func (h *mockHost) AmountFromTransactionInA(s *MachineState) int64    { return h.txAmount }
func (h *mockHost) TimestampFromTransactionInA(s *MachineState) int64 { return h.txTs }

func (h *mockHost) GenerateRandomUsingTransactionInA(s *MachineState) int64 {
	if !s.FirstOpAfterSleep() {
		s.SetSleepUntilHeight(h.height + 1)
		s.SetSleeping(true)
		return 0
	}
	return h.random
}

func (h *mockHost) PutMessageFromTransactionInAIntoB(s *MachineState) { s.SetBBytes(h.message) }
func (h *mockHost) PutAddressFromTransactionInAIntoB(s *MachineState) { s.SetBBytes(h.sender) }
func (h *mockHost) PutCreatorAddressIntoB(s *MachineState)            { s.SetBBytes(h.creator) }

func (h *mockHost) PayAmountToB(amount int64, s *MachineState) {
	bal := s.GetCurrentBalance()
	if amount > bal {
		amount = bal
	}
	if amount <= 0 {
		return
	}
	s.SetCurrentBalance(bal - amount)
	h.payments = append(h.payments, mockPayment{to: s.GetBBytes(), amount: amount})
}

func (h *mockHost) MessageAToB(s *MachineState) { h.messagesSent++ }

func (h *mockHost) OnFinished(balance int64, s *MachineState) {
	h.finishedCalls++
	h.finishedBal = balance
}

func (h *mockHost) OnFatalError(s *MachineState, err error) { h.fatalErr = err }

func (h *mockHost) AddMinutesToTimestamp(ts, minutes int64, s *MachineState) int64 {
	return ts + minutes<<32
}

func (h *mockHost) MaxStepsPerRound() int32       { return h.maxSteps }
func (h *mockHost) OpCodeSteps(op OpCode) int32   { return DefaultOpCodeSteps(op) }
func (h *mockHost) FeePerStep() int64             { return h.feePerStep }

func (h *mockHost) PlatformSpecificPreExecuteCheck(paramCount int, returnsValue bool, s *MachineState, rawCode uint16) error {
	fn, ok := h.platform[rawCode]
	if !ok {
		return fmt.Errorf("undeclared platform code 0x%04x", rawCode)
	}
	if fn.params != paramCount || fn.returns != returnsValue {
		return fmt.Errorf("platform code 0x%04x shape mismatch", rawCode)
	}
	return nil
}

func (h *mockHost) PlatformSpecificPostCheckExecute(functionData []int64, s *MachineState, rawCode uint16) (int64, error) {
	return h.platform[rawCode].execute(functionData, s)
}

// runRound drives one executor round against the mock host.
func runRound(s *MachineState, h *mockHost) int32 {
	return NewExecutor(s, h).RunRound()
}
