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
)

// MachineState holds the complete execution state of one AT: the four
// segments, the program counter, the lifecycle flags, the resume checkpoints,
// the round counters and the A/B registers. The zero value is not usable;
// machines are built by NewMachineState (from a program image) or
// DeserializeMachineState (from a snapshot plus the creation-time code
// image).
//
// Data cells, stack entries and register limbs are stored big-endian in
// their byte regions, matching the code-stream and snapshot encodings.
type MachineState struct {
	version uint16

	code      []byte // read-only during execution
	data      []byte // 64-bit cells, byte offset = index * ValueSize
	callStack []byte // 32-bit code addresses, grows downward
	userStack []byte // 64-bit values, grows downward

	pc uint32

	running           bool
	sleeping          bool
	stopped           bool
	finished          bool
	frozen            bool
	hadFatalError     bool
	firstOpAfterSleep bool

	onStopAddr  uint32
	onErrorAddr int32 // negative = no handler installed
	sleepUntil  int32

	stepsThisRound  int32
	creationHeight  int32
	currentBalance  int64
	previousBalance int64
	frozenBalance   int64 // freeze threshold

	csCount uint32 // live call-stack entries
	usCount uint32 // live user-stack entries

	a [4]uint64 // A1..A4, limb 0 least significant
	b [4]uint64
}

// ImageVersion is the program image / snapshot layout version this package
// reads and writes.
const ImageVersion uint16 = 1

// imageHeaderSize is the fixed prefix of a program image: version tag plus
// the four segment sizes.
const imageHeaderSize = 2 + 4*4

// NewMachineState parses a program image (header || code || data ||
// call_stack || user_stack) and returns a fresh machine with cleared flags,
// registers and counters. The image's data region provides the initial cell
// contents. frozenBalance is the balance threshold below which the machine
// freezes; by convention the host passes its fee for a single step.
func NewMachineState(image []byte, creationHeight int32, frozenBalance int64) (*MachineState, error) {
	if len(image) < imageHeaderSize {
		return nil, fmt.Errorf("avm: truncated program image (%d bytes)", len(image))
	}
	version := beUint16(image)
	if version != ImageVersion {
		return nil, fmt.Errorf("avm: unsupported image version %d", version)
	}
	var sizes [4]uint32
	for i := range sizes {
		sizes[i] = beUint32(image[2+4*i:])
		if sizes[i]%ValueSize != 0 {
			return nil, fmt.Errorf("avm: segment size %d is not a multiple of %d", sizes[i], ValueSize)
		}
	}
	codeSize, dataSize, csSize, usSize := sizes[0], sizes[1], sizes[2], sizes[3]
	total := imageHeaderSize + int(codeSize) + int(dataSize) + int(csSize) + int(usSize)
	if len(image) != total {
		return nil, fmt.Errorf("avm: program image is %d bytes, header declares %d", len(image), total)
	}

	s := &MachineState{
		version:        version,
		code:           make([]byte, codeSize),
		data:           make([]byte, dataSize),
		callStack:      make([]byte, csSize),
		userStack:      make([]byte, usSize),
		onErrorAddr:    -1,
		creationHeight: creationHeight,
		frozenBalance:  frozenBalance,
	}
	off := imageHeaderSize
	copy(s.code, image[off:])
	off += int(codeSize)
	copy(s.data, image[off:])
	off += int(dataSize)
	copy(s.callStack, image[off:])
	off += int(csSize)
	copy(s.userStack, image[off:])
	return s, nil
}

// BuildImage assembles a program image from the given code and initial data
// bytes plus the requested stack sizes. Code and data are padded up to the
// next multiple of ValueSize.
func BuildImage(code, data []byte, callStackSize, userStackSize uint32) ([]byte, error) {
	if callStackSize%ValueSize != 0 || userStackSize%ValueSize != 0 {
		return nil, fmt.Errorf("avm: stack sizes must be multiples of %d", ValueSize)
	}
	pad := func(b []byte) []byte {
		if rem := len(b) % ValueSize; rem != 0 {
			b = append(b, make([]byte, ValueSize-rem)...)
		}
		return b
	}
	code, data = pad(code), pad(data)
	image := make([]byte, 0, imageHeaderSize+len(code)+len(data)+int(callStackSize)+int(userStackSize))
	var hdr [imageHeaderSize]byte
	putUint16(hdr[0:], ImageVersion)
	putUint32(hdr[2:], uint32(len(code)))
	putUint32(hdr[6:], uint32(len(data)))
	putUint32(hdr[10:], callStackSize)
	putUint32(hdr[14:], userStackSize)
	image = append(image, hdr[:]...)
	image = append(image, code...)
	image = append(image, data...)
	image = append(image, make([]byte, callStackSize+userStackSize)...)
	return image, nil
}

// ---- Segment geometry ------------------------------------------------------

// CodeSize returns the code segment size in bytes.
func (s *MachineState) CodeSize() int { return len(s.code) }

// DataSize returns the data segment size in bytes.
func (s *MachineState) DataSize() int { return len(s.data) }

// NumDataCells returns the number of addressable 64-bit data cells.
func (s *MachineState) NumDataCells() int32 { return int32(len(s.data) / ValueSize) }

// Code returns the machine's code image. Callers must treat it as read-only.
func (s *MachineState) Code() []byte { return s.code }

// checkDataRange validates that span bytes starting at cell index idx lie
// within the data segment.
func (s *MachineState) checkDataRange(idx int32, span int) error {
	off := int64(idx) * ValueSize
	if idx < 0 || off+int64(span) > int64(len(s.data)) {
		return fmt.Errorf("%w: data cell %d (span %d)", ErrInvalidAddress, idx, span)
	}
	return nil
}

// GetDataLong returns the 64-bit cell at the given index.
func (s *MachineState) GetDataLong(idx int32) (int64, error) {
	if err := s.checkDataRange(idx, ValueSize); err != nil {
		return 0, err
	}
	return int64(beUint64(s.data[idx*ValueSize:])), nil
}

// PutDataLong stores a 64-bit value into the cell at the given index.
func (s *MachineState) PutDataLong(idx int32, v int64) error {
	if err := s.checkDataRange(idx, ValueSize); err != nil {
		return err
	}
	putUint64(s.data[idx*ValueSize:], uint64(v))
	return nil
}

// ---- Stacks ----------------------------------------------------------------
// Both stacks grow downward from the high end of their segment; the counters
// give the number of live entries.

// pushUser pushes a 64-bit value onto the user stack.
func (s *MachineState) pushUser(v int64) error {
	if int(s.usCount+1)*ValueSize > len(s.userStack) {
		return fmt.Errorf("%w: user stack overflow", ErrStackBounds)
	}
	s.usCount++
	putUint64(s.userStack[len(s.userStack)-int(s.usCount)*ValueSize:], uint64(v))
	return nil
}

// popUser pops the top 64-bit value off the user stack.
func (s *MachineState) popUser() (int64, error) {
	if s.usCount == 0 {
		return 0, fmt.Errorf("%w: user stack underflow", ErrStackBounds)
	}
	v := int64(beUint64(s.userStack[len(s.userStack)-int(s.usCount)*ValueSize:]))
	s.usCount--
	return v, nil
}

// pushCall pushes a 32-bit return address onto the call stack.
func (s *MachineState) pushCall(addr uint32) error {
	if int(s.csCount+1)*AddressSize > len(s.callStack) {
		return fmt.Errorf("%w: call stack overflow", ErrStackBounds)
	}
	s.csCount++
	putUint32(s.callStack[len(s.callStack)-int(s.csCount)*AddressSize:], addr)
	return nil
}

// popCall pops the top return address off the call stack.
func (s *MachineState) popCall() (uint32, error) {
	if s.csCount == 0 {
		return 0, fmt.Errorf("%w: call stack underflow", ErrStackBounds)
	}
	v := beUint32(s.callStack[len(s.callStack)-int(s.csCount)*AddressSize:])
	s.csCount--
	return v, nil
}

// UserStackDepth returns the number of live user-stack entries.
func (s *MachineState) UserStackDepth() int { return int(s.usCount) }

// CallStackDepth returns the number of live call-stack entries.
func (s *MachineState) CallStackDepth() int { return int(s.csCount) }

// ---- A/B registers ---------------------------------------------------------
// The registers are four 64-bit limbs each, limb 1 least significant. Their
// byte form is the big-endian encoding of the limbs in A1..A4 order, which is
// also the layout used when a register is copied to or from data cells.

// GetA1 returns limb 1 of register A. The remaining accessors follow the
// same pattern.
func (s *MachineState) GetA1() int64 { return int64(s.a[0]) }
func (s *MachineState) GetA2() int64 { return int64(s.a[1]) }
func (s *MachineState) GetA3() int64 { return int64(s.a[2]) }
func (s *MachineState) GetA4() int64 { return int64(s.a[3]) }
func (s *MachineState) GetB1() int64 { return int64(s.b[0]) }
func (s *MachineState) GetB2() int64 { return int64(s.b[1]) }
func (s *MachineState) GetB3() int64 { return int64(s.b[2]) }
func (s *MachineState) GetB4() int64 { return int64(s.b[3]) }

func (s *MachineState) SetA1(v int64) { s.a[0] = uint64(v) }
func (s *MachineState) SetA2(v int64) { s.a[1] = uint64(v) }
func (s *MachineState) SetA3(v int64) { s.a[2] = uint64(v) }
func (s *MachineState) SetA4(v int64) { s.a[3] = uint64(v) }
func (s *MachineState) SetB1(v int64) { s.b[0] = uint64(v) }
func (s *MachineState) SetB2(v int64) { s.b[1] = uint64(v) }
func (s *MachineState) SetB3(v int64) { s.b[2] = uint64(v) }
func (s *MachineState) SetB4(v int64) { s.b[3] = uint64(v) }

// GetABytes returns the 32-byte form of register A.
func (s *MachineState) GetABytes() [RegisterSize]byte { return regBytes(&s.a) }

// GetBBytes returns the 32-byte form of register B.
func (s *MachineState) GetBBytes() [RegisterSize]byte { return regBytes(&s.b) }

// SetABytes loads register A from its 32-byte form.
func (s *MachineState) SetABytes(v [RegisterSize]byte) { setRegBytes(&s.a, v) }

// SetBBytes loads register B from its 32-byte form.
func (s *MachineState) SetBBytes(v [RegisterSize]byte) { setRegBytes(&s.b, v) }

func regBytes(r *[4]uint64) (out [RegisterSize]byte) {
	for i, limb := range r {
		putUint64(out[i*8:], limb)
	}
	return out
}

func setRegBytes(r *[4]uint64, v [RegisterSize]byte) {
	for i := range r {
		r[i] = beUint64(v[i*8:])
	}
}

// copyRegToData stores a register into the 32 bytes starting at cell idx.
func (s *MachineState) copyRegToData(r *[4]uint64, idx int32) error {
	if err := s.checkDataRange(idx, RegisterSize); err != nil {
		return err
	}
	v := regBytes(r)
	copy(s.data[idx*ValueSize:], v[:])
	return nil
}

// copyDataToReg loads a register from the 32 bytes starting at cell idx.
func (s *MachineState) copyDataToReg(r *[4]uint64, idx int32) error {
	if err := s.checkDataRange(idx, RegisterSize); err != nil {
		return err
	}
	var v [RegisterSize]byte
	copy(v[:], s.data[idx*ValueSize:])
	setRegBytes(r, v)
	return nil
}

// ---- Flags and checkpoints -------------------------------------------------

// PC returns the current program counter.
func (s *MachineState) PC() uint32 { return s.pc }

// Running reports whether the machine is inside an execution round.
func (s *MachineState) Running() bool { return s.running }

// Sleeping reports whether the machine is waiting for a block height.
func (s *MachineState) Sleeping() bool { return s.sleeping }

// Stopped reports whether the machine stopped voluntarily.
func (s *MachineState) Stopped() bool { return s.stopped }

// Finished reports whether the machine has terminated. Finished is terminal:
// the Executor never advances a finished machine again.
func (s *MachineState) Finished() bool { return s.finished }

// Frozen reports whether the machine is frozen for lack of balance.
func (s *MachineState) Frozen() bool { return s.frozen }

// HadFatalError reports whether the machine terminated on an unhandled
// fault.
func (s *MachineState) HadFatalError() bool { return s.hadFatalError }

// FirstOpAfterSleep reports whether the next opcode is the first one after a
// wake-up. Function codes may consult it to implement two-phase operations
// that need a fresh block's entropy.
func (s *MachineState) FirstOpAfterSleep() bool { return s.firstOpAfterSleep }

// SetSleeping sets or clears the sleeping flag.
func (s *MachineState) SetSleeping(v bool) { s.sleeping = v }

// SetStopped sets or clears the stopped flag.
func (s *MachineState) SetStopped(v bool) { s.stopped = v }

// SetFinished sets or clears the finished flag. The Executor itself never
// clears it.
func (s *MachineState) SetFinished(v bool) { s.finished = v }

// SetFrozen sets or clears the frozen flag.
func (s *MachineState) SetFrozen(v bool) { s.frozen = v }

// OnStopAddress returns the PC a stopped machine resumes at.
func (s *MachineState) OnStopAddress() uint32 { return s.onStopAddr }

// SetOnStopAddress installs the resume PC used by STP_IMD and STZ_DAT.
func (s *MachineState) SetOnStopAddress(addr uint32) { s.onStopAddr = addr }

// OnErrorAddress returns the installed fault handler address; negative means
// no handler and any fault is terminal.
func (s *MachineState) OnErrorAddress() int32 { return s.onErrorAddr }

// SetOnErrorAddress installs the fault handler address; a negative value
// clears it.
func (s *MachineState) SetOnErrorAddress(addr int32) { s.onErrorAddr = addr }

// SleepUntilHeight returns the block height at which a sleeping machine
// wakes.
func (s *MachineState) SleepUntilHeight() int32 { return s.sleepUntil }

// SetSleepUntilHeight sets the wake-up height.
func (s *MachineState) SetSleepUntilHeight(h int32) { s.sleepUntil = h }

// ---- Counters and balances -------------------------------------------------

// StepsThisRound returns the steps charged in the current round.
func (s *MachineState) StepsThisRound() int32 { return s.stepsThisRound }

// CreationBlockHeight returns the height the AT was created at.
func (s *MachineState) CreationBlockHeight() int32 { return s.creationHeight }

// GetCurrentBalance returns the machine's view of its account balance. The
// host refreshes it before every round and payment callbacks keep it in
// sync.
func (s *MachineState) GetCurrentBalance() int64 { return s.currentBalance }

// SetCurrentBalance updates the machine's balance view.
func (s *MachineState) SetCurrentBalance(v int64) { s.currentBalance = v }

// GetPreviousBalance returns the balance recorded at the start of the round.
func (s *MachineState) GetPreviousBalance() int64 { return s.previousBalance }

// FrozenBalance returns the freeze threshold.
func (s *MachineState) FrozenBalance() int64 { return s.frozenBalance }

// SetFrozenBalance updates the freeze threshold.
func (s *MachineState) SetFrozenBalance(v int64) { s.frozenBalance = v }
