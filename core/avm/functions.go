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
	"crypto/md5"
	"crypto/sha256"
	"fmt"

	"github.com/holiman/uint256"
	"golang.org/x/crypto/ripemd160"
	"golang.org/x/crypto/sha3"
)

// FunctionCode is the 16-bit selector of an external function. Codes below
// PlatformFunctionBase are defined by this package; codes at or above it are
// owned by the platform and dispatched through the host's pre/post hooks.
type FunctionCode uint16

// PlatformFunctionBase is the first function code delegated to the platform.
const PlatformFunctionBase FunctionCode = 0x0500

// Core function codes. The 0x01xx group operates on the A/B registers and
// the data segment, 0x02xx are digests, 0x03xx chain queries and 0x04xx the
// balance/action group.
const (
	FnGetA1 FunctionCode = 0x0100 + iota
	FnGetA2
	FnGetA3
	FnGetA4
	FnGetB1
	FnGetB2
	FnGetB3
	FnGetB4
)

const (
	FnSetA1 FunctionCode = 0x0110 + iota
	FnSetA2
	FnSetA3
	FnSetA4
	FnSetA1A2
	FnSetA3A4
	FnSetB1
	FnSetB2
	FnSetB3
	FnSetB4
	FnSetB1B2
	FnSetB3B4
)

const (
	FnClearA FunctionCode = 0x0120 + iota
	FnClearB
	FnClearAAndB
	FnCopyAFromB
	FnCopyBFromA
	FnCheckAIsZero
	FnCheckBIsZero
	FnCheckAEqualsB
	FnSwapAAndB
	FnOrAWithB
	FnOrBWithA
	FnAndAWithB
	FnAndBWithA
	FnXorAWithB
	FnXorBWithA
)

// Register/data block moves. The DAT forms take the target cell index as
// their argument; the IND forms take a cell whose value is the target index.
const (
	FnSetADat FunctionCode = 0x0130 + iota
	FnSetBDat
	FnGetADat
	FnGetBDat
	FnSetAInd
	FnSetBInd
	FnGetAInd
	FnGetBInd
)

// A/B combined arithmetic, 256-bit with A1/B1 as the least-significant limb.
const (
	FnAddAToB FunctionCode = 0x0140 + iota
	FnAddBToA
	FnSubAFromB
	FnSubBFromA
	FnMulAByB
	FnMulBByA
	FnDivAByB
	FnDivBByA
)

// 256-bit comparisons returning -1, 0 or +1.
const (
	FnUnsignedCompareAWithB FunctionCode = 0x0150 + iota
	FnSignedCompareAWithB
)

// Digests.
const (
	FnMD5AToB FunctionCode = 0x0200 + iota
	FnCheckMD5AWithB
	FnHash160AToB
	FnCheckHash160AWithB
	FnSHA256AToB
	FnCheckSHA256AWithB
	FnSHA3AToB
)

// Chain queries.
const (
	FnGetBlockTimestamp FunctionCode = 0x0300 + iota
	FnGetCreationTimestamp
	FnGetLastBlockTimestamp
	FnPutLastBlockHashInA
	FnATxAfterTimestamp
	FnGetTypeForTxInA
	FnGetAmountForTxInA
	FnGetTimestampForTxInA
	FnGetRandomIDForTxInA
	FnMessageFromTxInAToB
	FnBToAddressOfTxInA
	FnBToAddressOfCreator
)

// Balance and actions.
const (
	FnGetCurrentBalance FunctionCode = 0x0400 + iota
	FnGetPreviousBalance
	FnSendToAddressInB
	FnSendAllToAddressInB
	FnSendOldToAddressInB
	FnSendAToAddressInB
	FnAddMinutesToTimestamp
)

// functionInfo declares one core function: its mnemonic, its call shape and
// its handler. The interpreter verifies the shape against the EXT_FUN opcode
// form before dispatch.
type functionInfo struct {
	name    string
	params  int
	returns bool
	handler func(in *Interpreter, args []int64) (int64, error)
}

// FunctionShape returns the declared (paramCount, returnsValue) of a core
// function code. ok is false for unknown and platform codes.
func FunctionShape(code FunctionCode) (params int, returns bool, ok bool) {
	info, found := functionTable[code]
	if !found {
		return 0, false, false
	}
	return info.params, info.returns, true
}

// FunctionName returns the mnemonic of a core function code, or the empty
// string when the code is unknown.
func FunctionName(code FunctionCode) string {
	return functionTable[code].name
}

var functionTable = map[FunctionCode]functionInfo{
	FnGetA1: {"GET_A1", 0, true, func(in *Interpreter, _ []int64) (int64, error) { return in.state.GetA1(), nil }},
	FnGetA2: {"GET_A2", 0, true, func(in *Interpreter, _ []int64) (int64, error) { return in.state.GetA2(), nil }},
	FnGetA3: {"GET_A3", 0, true, func(in *Interpreter, _ []int64) (int64, error) { return in.state.GetA3(), nil }},
	FnGetA4: {"GET_A4", 0, true, func(in *Interpreter, _ []int64) (int64, error) { return in.state.GetA4(), nil }},
	FnGetB1: {"GET_B1", 0, true, func(in *Interpreter, _ []int64) (int64, error) { return in.state.GetB1(), nil }},
	FnGetB2: {"GET_B2", 0, true, func(in *Interpreter, _ []int64) (int64, error) { return in.state.GetB2(), nil }},
	FnGetB3: {"GET_B3", 0, true, func(in *Interpreter, _ []int64) (int64, error) { return in.state.GetB3(), nil }},
	FnGetB4: {"GET_B4", 0, true, func(in *Interpreter, _ []int64) (int64, error) { return in.state.GetB4(), nil }},

	FnSetA1: {"SET_A1", 1, false, func(in *Interpreter, args []int64) (int64, error) { in.state.SetA1(args[0]); return 0, nil }},
	FnSetA2: {"SET_A2", 1, false, func(in *Interpreter, args []int64) (int64, error) { in.state.SetA2(args[0]); return 0, nil }},
	FnSetA3: {"SET_A3", 1, false, func(in *Interpreter, args []int64) (int64, error) { in.state.SetA3(args[0]); return 0, nil }},
	FnSetA4: {"SET_A4", 1, false, func(in *Interpreter, args []int64) (int64, error) { in.state.SetA4(args[0]); return 0, nil }},
	FnSetA1A2: {"SET_A1_A2", 2, false, func(in *Interpreter, args []int64) (int64, error) {
		in.state.SetA1(args[0])
		in.state.SetA2(args[1])
		return 0, nil
	}},
	FnSetA3A4: {"SET_A3_A4", 2, false, func(in *Interpreter, args []int64) (int64, error) {
		in.state.SetA3(args[0])
		in.state.SetA4(args[1])
		return 0, nil
	}},
	FnSetB1: {"SET_B1", 1, false, func(in *Interpreter, args []int64) (int64, error) { in.state.SetB1(args[0]); return 0, nil }},
	FnSetB2: {"SET_B2", 1, false, func(in *Interpreter, args []int64) (int64, error) { in.state.SetB2(args[0]); return 0, nil }},
	FnSetB3: {"SET_B3", 1, false, func(in *Interpreter, args []int64) (int64, error) { in.state.SetB3(args[0]); return 0, nil }},
	FnSetB4: {"SET_B4", 1, false, func(in *Interpreter, args []int64) (int64, error) { in.state.SetB4(args[0]); return 0, nil }},
	FnSetB1B2: {"SET_B1_B2", 2, false, func(in *Interpreter, args []int64) (int64, error) {
		in.state.SetB1(args[0])
		in.state.SetB2(args[1])
		return 0, nil
	}},
	FnSetB3B4: {"SET_B3_B4", 2, false, func(in *Interpreter, args []int64) (int64, error) {
		in.state.SetB3(args[0])
		in.state.SetB4(args[1])
		return 0, nil
	}},

	FnClearA: {"CLEAR_A", 0, false, func(in *Interpreter, _ []int64) (int64, error) { in.state.a = [4]uint64{}; return 0, nil }},
	FnClearB: {"CLEAR_B", 0, false, func(in *Interpreter, _ []int64) (int64, error) { in.state.b = [4]uint64{}; return 0, nil }},
	FnClearAAndB: {"CLEAR_A_AND_B", 0, false, func(in *Interpreter, _ []int64) (int64, error) {
		in.state.a = [4]uint64{}
		in.state.b = [4]uint64{}
		return 0, nil
	}},
	FnCopyAFromB: {"COPY_A_FROM_B", 0, false, func(in *Interpreter, _ []int64) (int64, error) { in.state.a = in.state.b; return 0, nil }},
	FnCopyBFromA: {"COPY_B_FROM_A", 0, false, func(in *Interpreter, _ []int64) (int64, error) { in.state.b = in.state.a; return 0, nil }},
	FnCheckAIsZero: {"CHECK_A_IS_ZERO", 0, true, func(in *Interpreter, _ []int64) (int64, error) {
		return boolToLong(in.state.a == [4]uint64{}), nil
	}},
	FnCheckBIsZero: {"CHECK_B_IS_ZERO", 0, true, func(in *Interpreter, _ []int64) (int64, error) {
		return boolToLong(in.state.b == [4]uint64{}), nil
	}},
	FnCheckAEqualsB: {"CHECK_A_EQUALS_B", 0, true, func(in *Interpreter, _ []int64) (int64, error) {
		return boolToLong(in.state.a == in.state.b), nil
	}},
	FnSwapAAndB: {"SWAP_A_AND_B", 0, false, func(in *Interpreter, _ []int64) (int64, error) {
		in.state.a, in.state.b = in.state.b, in.state.a
		return 0, nil
	}},
	FnOrAWithB:  {"OR_A_WITH_B", 0, false, limbwise(func(a, b uint64) uint64 { return a | b }, true)},
	FnOrBWithA:  {"OR_B_WITH_A", 0, false, limbwise(func(a, b uint64) uint64 { return a | b }, false)},
	FnAndAWithB: {"AND_A_WITH_B", 0, false, limbwise(func(a, b uint64) uint64 { return a & b }, true)},
	FnAndBWithA: {"AND_B_WITH_A", 0, false, limbwise(func(a, b uint64) uint64 { return a & b }, false)},
	FnXorAWithB: {"XOR_A_WITH_B", 0, false, limbwise(func(a, b uint64) uint64 { return a ^ b }, true)},
	FnXorBWithA: {"XOR_B_WITH_A", 0, false, limbwise(func(a, b uint64) uint64 { return a ^ b }, false)},

	FnSetADat: {"SET_A_DAT", 1, false, func(in *Interpreter, args []int64) (int64, error) {
		return 0, in.state.copyDataToReg(&in.state.a, int32(args[0]))
	}},
	FnSetBDat: {"SET_B_DAT", 1, false, func(in *Interpreter, args []int64) (int64, error) {
		return 0, in.state.copyDataToReg(&in.state.b, int32(args[0]))
	}},
	FnGetADat: {"GET_A_DAT", 1, false, func(in *Interpreter, args []int64) (int64, error) {
		return 0, in.state.copyRegToData(&in.state.a, int32(args[0]))
	}},
	FnGetBDat: {"GET_B_DAT", 1, false, func(in *Interpreter, args []int64) (int64, error) {
		return 0, in.state.copyRegToData(&in.state.b, int32(args[0]))
	}},
	FnSetAInd: {"SET_A_IND", 1, false, indirectReg(func(in *Interpreter, idx int32) error {
		return in.state.copyDataToReg(&in.state.a, idx)
	})},
	FnSetBInd: {"SET_B_IND", 1, false, indirectReg(func(in *Interpreter, idx int32) error {
		return in.state.copyDataToReg(&in.state.b, idx)
	})},
	FnGetAInd: {"GET_A_IND", 1, false, indirectReg(func(in *Interpreter, idx int32) error {
		return in.state.copyRegToData(&in.state.a, idx)
	})},
	FnGetBInd: {"GET_B_IND", 1, false, indirectReg(func(in *Interpreter, idx int32) error {
		return in.state.copyRegToData(&in.state.b, idx)
	})},

	FnAddAToB:   {"ADD_A_TO_B", 0, false, wide256(func(z, a, b *uint256.Int) error { z.Add(b, a); return nil }, false)},
	FnAddBToA:   {"ADD_B_TO_A", 0, false, wide256(func(z, a, b *uint256.Int) error { z.Add(a, b); return nil }, true)},
	FnSubAFromB: {"SUB_A_FROM_B", 0, false, wide256(func(z, a, b *uint256.Int) error { z.Sub(b, a); return nil }, false)},
	FnSubBFromA: {"SUB_B_FROM_A", 0, false, wide256(func(z, a, b *uint256.Int) error { z.Sub(a, b); return nil }, true)},
	FnMulAByB:   {"MUL_A_BY_B", 0, false, wide256(func(z, a, b *uint256.Int) error { z.Mul(a, b); return nil }, true)},
	FnMulBByA:   {"MUL_B_BY_A", 0, false, wide256(func(z, a, b *uint256.Int) error { z.Mul(b, a); return nil }, false)},
	FnDivAByB: {"DIV_A_BY_B", 0, false, wide256(func(z, a, b *uint256.Int) error {
		if b.IsZero() {
			return fmt.Errorf("%w: DIV_A_BY_B by zero", ErrIllegalOperation)
		}
		z.Div(a, b)
		return nil
	}, true)},
	FnDivBByA: {"DIV_B_BY_A", 0, false, wide256(func(z, a, b *uint256.Int) error {
		if a.IsZero() {
			return fmt.Errorf("%w: DIV_B_BY_A by zero", ErrIllegalOperation)
		}
		z.Div(b, a)
		return nil
	}, false)},

	FnUnsignedCompareAWithB: {"UNSIGNED_COMPARE_A_WITH_B", 0, true, func(in *Interpreter, _ []int64) (int64, error) {
		a, b := reg256(&in.state.a), reg256(&in.state.b)
		return int64(a.Cmp(b)), nil
	}},
	FnSignedCompareAWithB: {"SIGNED_COMPARE_A_WITH_B", 0, true, func(in *Interpreter, _ []int64) (int64, error) {
		a, b := reg256(&in.state.a), reg256(&in.state.b)
		switch {
		case a.Slt(b):
			return -1, nil
		case a.Sgt(b):
			return 1, nil
		}
		return 0, nil
	}},

	FnMD5AToB: {"MD5_A_TO_B", 0, false, func(in *Interpreter, _ []int64) (int64, error) {
		d := md5HalfA(in.state)
		in.state.b[0] = beUint64(d[0:])
		in.state.b[1] = beUint64(d[8:])
		return 0, nil
	}},
	FnCheckMD5AWithB: {"CHECK_MD5_A_WITH_B", 0, true, func(in *Interpreter, _ []int64) (int64, error) {
		d := md5HalfA(in.state)
		return boolToLong(beUint64(d[0:]) == in.state.b[0] && beUint64(d[8:]) == in.state.b[1]), nil
	}},
	FnHash160AToB: {"HASH160_A_TO_B", 0, false, func(in *Interpreter, _ []int64) (int64, error) {
		in.state.SetBBytes(hash160A(in.state))
		return 0, nil
	}},
	FnCheckHash160AWithB: {"CHECK_HASH160_A_WITH_B", 0, true, func(in *Interpreter, _ []int64) (int64, error) {
		want := hash160A(in.state)
		got := in.state.GetBBytes()
		return boolToLong(string(want[:20]) == string(got[:20])), nil
	}},
	FnSHA256AToB: {"SHA256_A_TO_B", 0, false, func(in *Interpreter, _ []int64) (int64, error) {
		av := in.state.GetABytes()
		in.state.SetBBytes(sha256.Sum256(av[:]))
		return 0, nil
	}},
	FnCheckSHA256AWithB: {"CHECK_SHA256_A_WITH_B", 0, true, func(in *Interpreter, _ []int64) (int64, error) {
		av := in.state.GetABytes()
		return boolToLong(sha256.Sum256(av[:]) == in.state.GetBBytes()), nil
	}},
	FnSHA3AToB: {"SHA3_256_A_TO_B", 0, false, func(in *Interpreter, _ []int64) (int64, error) {
		av := in.state.GetABytes()
		in.state.SetBBytes(sha3.Sum256(av[:]))
		return 0, nil
	}},

	FnGetBlockTimestamp: {"GET_BLOCK_TIMESTAMP", 0, true, func(in *Interpreter, _ []int64) (int64, error) {
		return PackTimestamp(in.host.CurrentBlockHeight(), 0), nil
	}},
	FnGetCreationTimestamp: {"GET_CREATION_TIMESTAMP", 0, true, func(in *Interpreter, _ []int64) (int64, error) {
		return PackTimestamp(in.state.creationHeight, 0), nil
	}},
	FnGetLastBlockTimestamp: {"GET_LAST_BLOCK_TIMESTAMP", 0, true, func(in *Interpreter, _ []int64) (int64, error) {
		return PackTimestamp(in.host.CurrentBlockHeight()-1, 0), nil
	}},
	FnPutLastBlockHashInA: {"PUT_LAST_BLOCK_HASH_IN_A", 0, false, func(in *Interpreter, _ []int64) (int64, error) {
		in.host.PutPreviousBlockHashIntoA(in.state)
		return 0, nil
	}},
	FnATxAfterTimestamp: {"A_TO_TX_AFTER_TIMESTAMP", 1, false, func(in *Interpreter, args []int64) (int64, error) {
		in.host.PutTransactionAfterTimestampIntoA(args[0], in.state)
		return 0, nil
	}},
	FnGetTypeForTxInA: {"GET_TYPE_FOR_TX_IN_A", 0, true, func(in *Interpreter, _ []int64) (int64, error) {
		return in.host.TypeFromTransactionInA(in.state), nil
	}},
	FnGetAmountForTxInA: {"GET_AMOUNT_FOR_TX_IN_A", 0, true, func(in *Interpreter, _ []int64) (int64, error) {
		return in.host.AmountFromTransactionInA(in.state), nil
	}},
	FnGetTimestampForTxInA: {"GET_TIMESTAMP_FOR_TX_IN_A", 0, true, func(in *Interpreter, _ []int64) (int64, error) {
		return in.host.TimestampFromTransactionInA(in.state), nil
	}},
	FnGetRandomIDForTxInA: {"GET_RANDOM_ID_FOR_TX_IN_A", 0, true, func(in *Interpreter, _ []int64) (int64, error) {
		return in.host.GenerateRandomUsingTransactionInA(in.state), nil
	}},
	FnMessageFromTxInAToB: {"MESSAGE_FROM_TX_IN_A_TO_B", 0, false, func(in *Interpreter, _ []int64) (int64, error) {
		in.host.PutMessageFromTransactionInAIntoB(in.state)
		return 0, nil
	}},
	FnBToAddressOfTxInA: {"B_TO_ADDRESS_OF_TX_IN_A", 0, false, func(in *Interpreter, _ []int64) (int64, error) {
		in.host.PutAddressFromTransactionInAIntoB(in.state)
		return 0, nil
	}},
	FnBToAddressOfCreator: {"B_TO_ADDRESS_OF_CREATOR", 0, false, func(in *Interpreter, _ []int64) (int64, error) {
		in.host.PutCreatorAddressIntoB(in.state)
		return 0, nil
	}},

	FnGetCurrentBalance: {"GET_CURRENT_BALANCE", 0, true, func(in *Interpreter, _ []int64) (int64, error) {
		return in.state.GetCurrentBalance(), nil
	}},
	FnGetPreviousBalance: {"GET_PREVIOUS_BALANCE", 0, true, func(in *Interpreter, _ []int64) (int64, error) {
		return in.state.GetPreviousBalance(), nil
	}},
	FnSendToAddressInB: {"SEND_TO_ADDRESS_IN_B", 1, false, func(in *Interpreter, args []int64) (int64, error) {
		in.host.PayAmountToB(args[0], in.state)
		return 0, nil
	}},
	FnSendAllToAddressInB: {"SEND_ALL_TO_ADDRESS_IN_B", 0, false, func(in *Interpreter, _ []int64) (int64, error) {
		in.host.PayAmountToB(in.state.GetCurrentBalance(), in.state)
		return 0, nil
	}},
	FnSendOldToAddressInB: {"SEND_OLD_TO_ADDRESS_IN_B", 0, false, func(in *Interpreter, _ []int64) (int64, error) {
		in.host.PayAmountToB(in.state.GetPreviousBalance(), in.state)
		return 0, nil
	}},
	FnSendAToAddressInB: {"SEND_A_TO_ADDRESS_IN_B", 0, false, func(in *Interpreter, _ []int64) (int64, error) {
		in.host.MessageAToB(in.state)
		return 0, nil
	}},
	FnAddMinutesToTimestamp: {"ADD_MINUTES_TO_TIMESTAMP", 2, true, func(in *Interpreter, args []int64) (int64, error) {
		return in.host.AddMinutesToTimestamp(args[0], args[1], in.state), nil
	}},
}

// ---- Handler helpers -------------------------------------------------------

func boolToLong(v bool) int64 {
	if v {
		return 1
	}
	return 0
}

// limbwise builds a handler combining A and B limb by limb; intoA selects the
// destination register.
func limbwise(op func(a, b uint64) uint64, intoA bool) func(*Interpreter, []int64) (int64, error) {
	return func(in *Interpreter, _ []int64) (int64, error) {
		s := in.state
		for i := range s.a {
			if intoA {
				s.a[i] = op(s.a[i], s.b[i])
			} else {
				s.b[i] = op(s.b[i], s.a[i])
			}
		}
		return 0, nil
	}
}

// indirectReg builds a handler whose argument names a cell holding the real
// target cell index.
func indirectReg(op func(in *Interpreter, idx int32) error) func(*Interpreter, []int64) (int64, error) {
	return func(in *Interpreter, args []int64) (int64, error) {
		ptr, err := in.state.GetDataLong(int32(args[0]))
		if err != nil {
			return 0, err
		}
		return 0, op(in, int32(ptr))
	}
}

// reg256 views a register as a 256-bit integer; the limb order of
// uint256.Int matches the register layout (limb 0 least significant).
func reg256(r *[4]uint64) *uint256.Int {
	z := uint256.Int(*r)
	return &z
}

// wide256 builds a handler performing 256-bit arithmetic over A and B,
// writing the result into A (intoA) or B.
func wide256(op func(z, a, b *uint256.Int) error, intoA bool) func(*Interpreter, []int64) (int64, error) {
	return func(in *Interpreter, _ []int64) (int64, error) {
		s := in.state
		a, b := reg256(&s.a), reg256(&s.b)
		var z uint256.Int
		if err := op(&z, a, b); err != nil {
			return 0, err
		}
		if intoA {
			s.a = [4]uint64(z)
		} else {
			s.b = [4]uint64(z)
		}
		return 0, nil
	}
}

// md5HalfA digests the first 16 bytes of A (limbs A1 and A2).
func md5HalfA(s *MachineState) [md5.Size]byte {
	av := s.GetABytes()
	return md5.Sum(av[:16])
}

// hash160A computes RIPEMD160(SHA256(A)) zero-padded to register width.
func hash160A(s *MachineState) [RegisterSize]byte {
	av := s.GetABytes()
	first := sha256.Sum256(av[:])
	h := ripemd160.New()
	h.Write(first[:])
	var out [RegisterSize]byte
	copy(out[:], h.Sum(nil))
	return out
}
