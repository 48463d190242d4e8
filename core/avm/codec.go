// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package avm

import (
	"encoding/binary"
	"fmt"
)

// All multi-byte integers in the code segment and in snapshots are big-endian
// two's complement: 16-bit function codes, 32-bit addresses, 64-bit values,
// signed 8-bit branch offsets.

func beUint64(b []byte) uint64 { return binary.BigEndian.Uint64(b) }
func beUint32(b []byte) uint32 { return binary.BigEndian.Uint32(b) }
func beUint16(b []byte) uint16 { return binary.BigEndian.Uint16(b) }

func putUint64(b []byte, v uint64) { binary.BigEndian.PutUint64(b, v) }
func putUint32(b []byte, v uint32) { binary.BigEndian.PutUint32(b, v) }
func putUint16(b []byte, v uint16) { binary.BigEndian.PutUint16(b, v) }

// codeInt64 reads a 64-bit immediate at byte offset off of the code segment.
func (s *MachineState) codeInt64(off uint32) (int64, error) {
	if int(off)+8 > len(s.code) {
		return 0, fmt.Errorf("%w: value at %d", ErrCodeUnderflow, off)
	}
	return int64(beUint64(s.code[off:])), nil
}

// codeInt32 reads a 32-bit address at byte offset off of the code segment.
func (s *MachineState) codeInt32(off uint32) (int32, error) {
	if int(off)+4 > len(s.code) {
		return 0, fmt.Errorf("%w: address at %d", ErrCodeUnderflow, off)
	}
	return int32(beUint32(s.code[off:])), nil
}

// codeUint16 reads a 16-bit function code at byte offset off.
func (s *MachineState) codeUint16(off uint32) (uint16, error) {
	if int(off)+2 > len(s.code) {
		return 0, fmt.Errorf("%w: function code at %d", ErrCodeUnderflow, off)
	}
	return beUint16(s.code[off:]), nil
}

// codeInt8 reads a signed branch offset at byte offset off.
func (s *MachineState) codeInt8(off uint32) (int8, error) {
	if int(off) >= len(s.code) {
		return 0, fmt.Errorf("%w: offset at %d", ErrCodeUnderflow, off)
	}
	return int8(s.code[off]), nil
}

// ---- Timestamps ------------------------------------------------------------
// A timestamp packs a block height and a transaction sequence number within
// that block into one 64-bit value.

// PackTimestamp builds a packed timestamp from a block height and a
// transaction sequence number.
func PackTimestamp(height, seq int32) int64 {
	return int64(height)<<32 | int64(uint32(seq))
}

// TimestampHeight extracts the block height of a packed timestamp.
func TimestampHeight(ts int64) int32 {
	return int32(ts >> 32)
}

// TimestampSeq extracts the in-block transaction sequence of a packed
// timestamp.
func TimestampSeq(ts int64) int32 {
	return int32(ts)
}
