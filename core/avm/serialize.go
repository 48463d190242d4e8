// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package avm

import (
	"fmt"
)

// Snapshot layout, all integers big-endian. The layout is normative: two
// implementations running the same code against the same host responses must
// produce byte-identical snapshots after the same number of rounds.
//
//	version          uint16
//	codeSize         uint32   (redundant with the code image; checked on load)
//	dataSize         uint32
//	callStackSize    uint32
//	userStackSize    uint32
//	pc               uint32
//	onStopAddr       uint32
//	onErrorAddr      int32    (negative = no handler)
//	sleepUntil       int32
//	creationHeight   int32
//	flags            uint16
//	stepsThisRound   int32
//	callStackCount   uint32
//	userStackCount   uint32
//	currentBalance   int64
//	previousBalance  int64
//	frozenBalance    int64
//	A1..A4, B1..B4   uint64 each
//	data             dataSize bytes
//	userStack        userStackSize bytes
//	callStack        callStackSize bytes
//
// The code segment is immutable and stored once at creation; it is not part
// of per-round snapshots.
const snapshotHeaderSize = 2 + 4*4 + 4 + 4 + 4 + 4 + 4 + 2 + 4 + 4 + 4 + 3*8 + 8*8

// Flag bit positions in the snapshot flags field.
const (
	flagRunning = 1 << iota
	flagSleeping
	flagStopped
	flagFinished
	flagFrozen
	flagHadFatalError
	flagFirstOpAfterSleep
)

// Serialize renders the machine state into its canonical snapshot form.
func (s *MachineState) Serialize() []byte {
	out := make([]byte, snapshotHeaderSize+len(s.data)+len(s.userStack)+len(s.callStack))

	putUint16(out[0:], s.version)
	putUint32(out[2:], uint32(len(s.code)))
	putUint32(out[6:], uint32(len(s.data)))
	putUint32(out[10:], uint32(len(s.callStack)))
	putUint32(out[14:], uint32(len(s.userStack)))
	putUint32(out[18:], s.pc)
	putUint32(out[22:], s.onStopAddr)
	putUint32(out[26:], uint32(s.onErrorAddr))
	putUint32(out[30:], uint32(s.sleepUntil))
	putUint32(out[34:], uint32(s.creationHeight))

	var flags uint16
	for _, f := range []struct {
		set bool
		bit uint16
	}{
		{s.running, flagRunning},
		{s.sleeping, flagSleeping},
		{s.stopped, flagStopped},
		{s.finished, flagFinished},
		{s.frozen, flagFrozen},
		{s.hadFatalError, flagHadFatalError},
		{s.firstOpAfterSleep, flagFirstOpAfterSleep},
	} {
		if f.set {
			flags |= f.bit
		}
	}
	putUint16(out[38:], flags)

	putUint32(out[40:], uint32(s.stepsThisRound))
	putUint32(out[44:], s.csCount)
	putUint32(out[48:], s.usCount)
	putUint64(out[52:], uint64(s.currentBalance))
	putUint64(out[60:], uint64(s.previousBalance))
	putUint64(out[68:], uint64(s.frozenBalance))
	for i, limb := range s.a {
		putUint64(out[76+8*i:], limb)
	}
	for i, limb := range s.b {
		putUint64(out[108+8*i:], limb)
	}

	off := snapshotHeaderSize
	off += copy(out[off:], s.data)
	off += copy(out[off:], s.userStack)
	copy(out[off:], s.callStack)
	return out
}

// DeserializeMachineState rebuilds a machine from its creation-time code
// image and a snapshot produced by Serialize.
func DeserializeMachineState(code, snap []byte) (*MachineState, error) {
	if len(snap) < snapshotHeaderSize {
		return nil, fmt.Errorf("avm: truncated snapshot (%d bytes)", len(snap))
	}
	version := beUint16(snap)
	if version != ImageVersion {
		return nil, fmt.Errorf("avm: unsupported snapshot version %d", version)
	}
	codeSize := beUint32(snap[2:])
	dataSize := beUint32(snap[6:])
	csSize := beUint32(snap[10:])
	usSize := beUint32(snap[14:])
	if int(codeSize) != len(code) {
		return nil, fmt.Errorf("avm: snapshot declares %d code bytes, image has %d", codeSize, len(code))
	}
	if want := snapshotHeaderSize + int(dataSize) + int(usSize) + int(csSize); len(snap) != want {
		return nil, fmt.Errorf("avm: snapshot is %d bytes, header declares %d", len(snap), want)
	}

	s := &MachineState{
		version:   version,
		code:      append([]byte(nil), code...),
		data:      make([]byte, dataSize),
		callStack: make([]byte, csSize),
		userStack: make([]byte, usSize),
	}
	s.pc = beUint32(snap[18:])
	s.onStopAddr = beUint32(snap[22:])
	s.onErrorAddr = int32(beUint32(snap[26:]))
	s.sleepUntil = int32(beUint32(snap[30:]))
	s.creationHeight = int32(beUint32(snap[34:]))

	flags := beUint16(snap[38:])
	s.running = flags&flagRunning != 0
	s.sleeping = flags&flagSleeping != 0
	s.stopped = flags&flagStopped != 0
	s.finished = flags&flagFinished != 0
	s.frozen = flags&flagFrozen != 0
	s.hadFatalError = flags&flagHadFatalError != 0
	s.firstOpAfterSleep = flags&flagFirstOpAfterSleep != 0

	s.stepsThisRound = int32(beUint32(snap[40:]))
	s.csCount = beUint32(snap[44:])
	s.usCount = beUint32(snap[48:])
	if int(s.csCount)*AddressSize > len(s.callStack) || int(s.usCount)*ValueSize > len(s.userStack) {
		return nil, fmt.Errorf("avm: snapshot stack counters exceed segment sizes")
	}
	s.currentBalance = int64(beUint64(snap[52:]))
	s.previousBalance = int64(beUint64(snap[60:]))
	s.frozenBalance = int64(beUint64(snap[68:]))
	for i := range s.a {
		s.a[i] = beUint64(snap[76+8*i:])
	}
	for i := range s.b {
		s.b[i] = beUint64(snap[108+8*i:])
	}

	off := snapshotHeaderSize
	off += copy(s.data, snap[off:])
	off += copy(s.userStack, snap[off:])
	copy(s.callStack, snap[off:])
	return s, nil
}
