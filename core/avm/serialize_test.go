// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package avm

import (
	"bytes"
	"testing"

	"github.com/davecgh/go-spew/spew"
)

// messyMachine produces a machine with every serialized field away from its
// zero value: mid-program PC, live stacks, registers, checkpoints and flags.
func messyMachine(t *testing.T) *MachineState {
	t.Helper()
	code := program(
		op(OpErrAdr), addr(30), // 0
		op(OpSetPcs), // 5
		op(OpJmpSub), addr(24), // 6: call
		op(OpPshDat), addr(0), // 11
		op(OpSlpVal), val64(5), // 16: sleep mid-program
		op(OpNop),              // 25... layout is irrelevant here
	)
	s := newTestMachine(t, code, 6)
	mustPutData(t, s, 0, -42)
	mustPutData(t, s, 5, 1<<40)
	s.SetA1(1)
	s.SetA4(-1)
	s.SetB2(0x0123456789abcdef)
	s.SetCurrentBalance(5000)
	s.SetFrozenBalance(7)
	s.SetOnStopAddress(6)
	s.SetOnErrorAddress(30)
	s.SetSleepUntilHeight(12)
	s.SetSleeping(true)
	s.stepsThisRound = 9
	s.previousBalance = 6000
	s.firstOpAfterSleep = true
	if err := s.pushUser(777); err != nil {
		t.Fatalf("pushUser: %v", err)
	}
	if err := s.pushCall(11); err != nil {
		t.Fatalf("pushCall: %v", err)
	}
	s.pc = 16
	return s
}

// TestSnapshotRoundTrip is the serialization invariant: deserializing a
// snapshot and re-serializing it reproduces the exact bytes, and every
// observable field survives.
func TestSnapshotRoundTrip(t *testing.T) {
	s := messyMachine(t)
	snap := s.Serialize()

	restored, err := DeserializeMachineState(s.Code(), snap)
	if err != nil {
		t.Fatalf("DeserializeMachineState: %v", err)
	}
	if again := restored.Serialize(); !bytes.Equal(snap, again) {
		t.Fatalf("snapshot not byte-stable:\nfirst:  %x\nsecond: %x", snap, again)
	}

	checks := []struct {
		name string
		got  interface{}
		want interface{}
	}{
		{"pc", restored.PC(), s.PC()},
		{"sleeping", restored.Sleeping(), s.Sleeping()},
		{"sleepUntil", restored.SleepUntilHeight(), s.SleepUntilHeight()},
		{"firstOpAfterSleep", restored.FirstOpAfterSleep(), s.FirstOpAfterSleep()},
		{"onStop", restored.OnStopAddress(), s.OnStopAddress()},
		{"onError", restored.OnErrorAddress(), s.OnErrorAddress()},
		{"balance", restored.GetCurrentBalance(), s.GetCurrentBalance()},
		{"previousBalance", restored.GetPreviousBalance(), s.GetPreviousBalance()},
		{"frozenBalance", restored.FrozenBalance(), s.FrozenBalance()},
		{"steps", restored.StepsThisRound(), s.StepsThisRound()},
		{"creationHeight", restored.CreationBlockHeight(), s.CreationBlockHeight()},
		{"userDepth", restored.UserStackDepth(), s.UserStackDepth()},
		{"callDepth", restored.CallStackDepth(), s.CallStackDepth()},
		{"A", restored.GetABytes(), s.GetABytes()},
		{"B", restored.GetBBytes(), s.GetBBytes()},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s: got %v; want %v", c.name, c.got, c.want)
		}
	}
	if v, err := restored.popUser(); err != nil || v != 777 {
		t.Errorf("restored user stack top = %d, %v; want 777", v, err)
	}
}

// TestSnapshotRoundTripAfterExecution snapshots between every pair of rounds
// of a multi-round program and checks the restored machine continues
// identically.
func TestSnapshotRoundTripAfterExecution(t *testing.T) {
	code := program(
		op(OpSetPcs), // 0
		op(OpIncDat), addr(0), // 1
		op(OpSlpImd), // 6
		op(OpJmpAdr), addr(1), // 7: loop forever, one increment per block
	)
	s := newTestMachine(t, code, 1)
	h := newMockHost()

	for round := 0; round < 4; round++ {
		runRound(s, h)

		restored, err := DeserializeMachineState(s.Code(), s.Serialize())
		if err != nil {
			t.Fatalf("round %d: %v", round, err)
		}
		if !bytes.Equal(restored.Serialize(), s.Serialize()) {
			t.Fatalf("round %d: snapshot drift\nlive:     %s\nrestored: %s",
				round, spew.Sdump(s), spew.Sdump(restored))
		}
		s = restored // continue from the restored copy
		h.height++
	}
	if got := mustGetData(t, s, 0); got != 4 {
		t.Errorf("@0 = %d after 4 rounds through snapshots; want 4", got)
	}
}

func TestDeserializeRejectsBadSnapshots(t *testing.T) {
	s := messyMachine(t)
	snap := s.Serialize()

	cases := []struct {
		name string
		code []byte
		snap []byte
	}{
		{"truncated", s.Code(), snap[:10]},
		{"code mismatch", s.Code()[:8], snap},
		{"length mismatch", s.Code(), snap[:len(snap)-1]},
	}
	for _, tc := range cases {
		if _, err := DeserializeMachineState(tc.code, tc.snap); err == nil {
			t.Errorf("%s: DeserializeMachineState accepted a bad snapshot", tc.name)
		}
	}

	// Corrupt stack counters must be rejected, not trusted.
	bad := append([]byte(nil), snap...)
	putUint32(bad[44:], 1<<20)
	if _, err := DeserializeMachineState(s.Code(), bad); err == nil {
		t.Error("oversized call-stack counter accepted")
	}
}
