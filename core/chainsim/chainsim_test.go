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

package chainsim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/sha3"

	"github.com/probechain/go-at/core/avm"
	"github.com/probechain/go-at/core/avm/asm"
)

var (
	atAddr      = Address(sha3.Sum256([]byte("at")))
	creatorAddr = Address(sha3.Sum256([]byte("creator")))
	senderAddr  = Address(sha3.Sum256([]byte("sender")))
)

// newMachine builds a machine from assembled code with room to work in.
func newMachine(t *testing.T, code []byte, dataCells int) *avm.MachineState {
	t.Helper()
	image, err := avm.BuildImage(code, make([]byte, dataCells*avm.ValueSize), 64, 64)
	require.NoError(t, err)
	s, err := avm.NewMachineState(image, 1, 0)
	require.NoError(t, err)
	return s
}

func TestBlockHashChainIsDeterministic(t *testing.T) {
	a, b := New(DefaultConfig), New(DefaultConfig)
	for i := 0; i < 5; i++ {
		a.AdvanceBlock()
		b.AdvanceBlock()
	}
	assert.Equal(t, a.BlockHash(6), b.BlockHash(6))
	assert.NotEqual(t, [32]byte{}, a.BlockHash(6))
	assert.NotEqual(t, a.BlockHash(5), a.BlockHash(6))
}

func TestTransactionFeedOrdering(t *testing.T) {
	c := New(DefaultConfig)
	tx1 := c.AddTransaction(Transaction{From: senderAddr, To: atAddr, Amount: 100})
	tx2 := c.AddTransaction(Transaction{From: senderAddr, To: atAddr, Amount: 200})
	c.AdvanceBlock()
	tx3 := c.AddTransaction(Transaction{From: senderAddr, To: atAddr, Amount: 300})

	assert.Equal(t, int32(0), tx1.Seq)
	assert.Equal(t, int32(1), tx2.Seq)
	assert.Equal(t, int32(0), tx3.Seq)
	assert.Equal(t, int64(600), c.Balance(atAddr))

	host := c.HostFor(atAddr, creatorAddr)
	s := newMachine(t, []byte{}, 1)

	// The feed walks strictly past the given timestamp.
	host.PutTransactionAfterTimestampIntoA(0, s)
	assert.Equal(t, tx1.ID, [32]byte(s.GetABytes()))
	host.PutTransactionAfterTimestampIntoA(tx1.Timestamp(), s)
	assert.Equal(t, tx2.ID, [32]byte(s.GetABytes()))
	host.PutTransactionAfterTimestampIntoA(tx2.Timestamp(), s)
	assert.Equal(t, tx3.ID, [32]byte(s.GetABytes()))
	host.PutTransactionAfterTimestampIntoA(tx3.Timestamp(), s)
	assert.Equal(t, [32]byte{}, [32]byte(s.GetABytes()))

	// Field lookups for the transaction in A.
	s.SetABytes(tx2.ID)
	assert.Equal(t, int64(200), host.AmountFromTransactionInA(s))
	assert.Equal(t, tx2.Timestamp(), host.TimestampFromTransactionInA(s))
	host.PutAddressFromTransactionInAIntoB(s)
	assert.Equal(t, senderAddr, Address(s.GetBBytes()))
}

func TestRandomDerivation(t *testing.T) {
	code, err := asm.NewBuilder().
		Emit(avm.OpExtFunRet, int64(avm.FnGetRandomIDForTxInA), 0).
		Emit(avm.OpFinImd).
		Bytes()
	require.NoError(t, err)

	c := New(DefaultConfig)
	tx := c.AddTransaction(Transaction{From: senderAddr, To: atAddr, Amount: 1})

	s := newMachine(t, code, 1)
	s.SetABytes(tx.ID)
	s.SetCurrentBalance(c.Balance(atAddr))
	host := c.HostFor(atAddr, creatorAddr)

	// Phase one sleeps for one block.
	avm.NewExecutor(s, host).RunRound()
	require.True(t, s.Sleeping())
	require.Equal(t, int32(2), s.SleepUntilHeight())

	c.AdvanceBlock()
	avm.NewExecutor(s, host).RunRound()
	require.True(t, s.Finished())
	require.False(t, s.HadFatalError())

	// The value must be the documented derivation from the tx id and the
	// entropy block's hash.
	hash := c.BlockHash(2)
	var buf [64]byte
	copy(buf[:32], tx.ID[:])
	copy(buf[32:], hash[:])
	digest := sha3.Sum256(buf[:])
	var want int64
	for i := 0; i < 8; i++ {
		want = want<<8 | int64(digest[i])
	}
	got, err := s.GetDataLong(0)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestPaymentsAndRefund(t *testing.T) {
	code, err := asm.NewBuilder().
		Emit(avm.OpExtFun, int64(avm.FnBToAddressOfCreator)).
		Emit(avm.OpExtFunVal, int64(avm.FnSendToAddressInB), 300).
		Emit(avm.OpFinImd).
		Bytes()
	require.NoError(t, err)

	c := New(DefaultConfig)
	c.SetBalance(atAddr, 1000)
	s := newMachine(t, code, 1)
	s.SetCurrentBalance(1000)

	avm.NewExecutor(s, c.HostFor(atAddr, creatorAddr)).RunRound()
	require.True(t, s.Finished())

	// 300 paid explicitly, the remaining 700 refunded by OnFinished.
	assert.Equal(t, int64(1000), c.Balance(creatorAddr))
	assert.Equal(t, int64(0), c.Balance(atAddr))
	require.Len(t, c.Payments(), 2)
	assert.Equal(t, Payment{From: atAddr, To: creatorAddr, Amount: 300}, c.Payments()[0])
	assert.Equal(t, Payment{From: atAddr, To: creatorAddr, Amount: 700}, c.Payments()[1])
}

func TestPaymentClampsAtBalance(t *testing.T) {
	c := New(DefaultConfig)
	c.SetBalance(atAddr, 50)
	s := newMachine(t, []byte{}, 1)
	s.SetCurrentBalance(50)
	s.SetBBytes(creatorAddr)

	c.HostFor(atAddr, creatorAddr).PayAmountToB(500, s)
	assert.Equal(t, int64(50), c.Balance(creatorAddr))
	assert.Equal(t, int64(0), s.GetCurrentBalance())
}

func TestMessageAToB(t *testing.T) {
	c := New(DefaultConfig)
	s := newMachine(t, []byte{}, 1)
	s.SetA1(0x68656c6c6f) // payload
	s.SetBBytes(senderAddr)

	c.HostFor(atAddr, creatorAddr).MessageAToB(s)
	require.Len(t, c.Messages(), 1)
	assert.Equal(t, atAddr, c.Messages()[0].From)
	assert.Equal(t, senderAddr, c.Messages()[0].To)
	assert.Equal(t, s.GetABytes(), [32]byte(c.Messages()[0].Payload))
}

// TestPlatformFunction drives the 0x0501 scenario through the real chain:
// declared as (1 arg, no return) it runs cleanly under EXT_FUN_DAT and
// faults under EXT_FUN_RET_DAT_2.
func TestPlatformFunction(t *testing.T) {
	c := New(DefaultConfig)
	var got int64
	require.NoError(t, c.RegisterPlatformFunction(0x0501, PlatformFunction{
		Params: 1,
		Execute: func(args []int64, s *avm.MachineState) (int64, error) {
			got = args[0]
			return 0, nil
		},
	}))
	require.Error(t, c.RegisterPlatformFunction(0x0100, PlatformFunction{}),
		"core range must be rejected")

	ts := avm.PackTimestamp(c.Height(), 0)
	code, err := asm.NewBuilder().
		Emit(avm.OpSetVal, 0, ts).
		Emit(avm.OpExtFunDat, 0x0501, 0).
		Emit(avm.OpFinImd).
		Bytes()
	require.NoError(t, err)

	s := newMachine(t, code, 1)
	avm.NewExecutor(s, c.HostFor(atAddr, creatorAddr)).RunRound()
	require.True(t, s.Finished())
	require.False(t, s.HadFatalError())
	assert.Equal(t, ts, got)

	// Same code under a mismatched opcode shape.
	bad, err := asm.NewBuilder().
		Emit(avm.OpExtFunRetDat2, 0x0501, 0, 1, 2).
		Emit(avm.OpFinImd).
		Bytes()
	require.NoError(t, err)
	s = newMachine(t, bad, 3)
	avm.NewExecutor(s, c.HostFor(atAddr, creatorAddr)).RunRound()
	require.True(t, s.Finished())
	require.True(t, s.HadFatalError())
}

func TestAddMinutesToTimestamp(t *testing.T) {
	c := New(DefaultConfig)
	host := c.HostFor(atAddr, creatorAddr)
	ts := avm.PackTimestamp(100, 7)
	got := host.AddMinutesToTimestamp(ts, 30, nil)
	assert.Equal(t, avm.PackTimestamp(130, 7), got)
}
