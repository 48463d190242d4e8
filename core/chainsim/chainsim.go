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

// Package chainsim provides a deterministic in-memory chain implementing
// avm.Host, used by the test suite and the at command. Block hashes are
// SHA3-derived from the hash chain alone, so a simulation replays
// identically from the same inputs.
package chainsim

import (
	"fmt"

	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/crypto/sha3"

	"github.com/probechain/go-at/core/avm"
)

// Address identifies an account; ATs, creators and payment targets all use
// the full 32-byte register form. It is an alias so the chain satisfies the
// controller's ledger interface directly.
type Address = [32]byte

// Transaction is one confirmed transaction addressed to an AT.
type Transaction struct {
	ID      [32]byte
	From    Address
	To      Address
	Type    int64
	Amount  int64
	Height  int32
	Seq     int32
	Message [32]byte
}

// Timestamp returns the transaction's packed (height, sequence) timestamp.
func (tx *Transaction) Timestamp() int64 { return avm.PackTimestamp(tx.Height, tx.Seq) }

// Payment records an outbound transfer made by an AT.
type Payment struct {
	From   Address
	To     Address
	Amount int64
}

// Message records an outbound message sent by an AT.
type Message struct {
	From    Address
	To      Address
	Payload [32]byte
}

// PlatformFunction declares one host-owned function code.
type PlatformFunction struct {
	Params  int
	Returns bool
	Execute func(args []int64, s *avm.MachineState) (int64, error)
}

// Config carries the metering parameters of the simulated platform.
type Config struct {
	MaxStepsPerRound int32
	FeePerStep       int64
}

// DefaultConfig mirrors the conventional platform parameters.
var DefaultConfig = Config{
	MaxStepsPerRound: 500,
	FeePerStep:       10,
}

// Chain is the simulated ledger. It is not safe for concurrent use; the
// execution model is strictly sequential anyway.
type Chain struct {
	cfg    Config
	height int32
	hashes map[int32][32]byte

	balances map[Address]int64
	incoming map[Address][]*Transaction
	byID     map[[32]byte]*Transaction
	perBlock map[int32]int32 // next tx sequence number per block

	payments []Payment
	messages []Message
	platform map[uint16]PlatformFunction

	logger log.Logger
}

// New creates a chain at height 1 with an empty ledger.
func New(cfg Config) *Chain {
	c := &Chain{
		cfg:      cfg,
		height:   1,
		hashes:   make(map[int32][32]byte),
		balances: make(map[Address]int64),
		incoming: make(map[Address][]*Transaction),
		byID:     make(map[[32]byte]*Transaction),
		perBlock: make(map[int32]int32),
		platform: make(map[uint16]PlatformFunction),
		logger:   log.New("module", "chainsim"),
	}
	c.hashes[0] = sha3.Sum256([]byte("genesis"))
	c.hashes[1] = c.deriveHash(1)
	return c
}

func (c *Chain) deriveHash(h int32) [32]byte {
	prev := c.hashes[h-1]
	var buf [36]byte
	copy(buf[:], prev[:])
	buf[32] = byte(uint32(h) >> 24)
	buf[33] = byte(uint32(h) >> 16)
	buf[34] = byte(uint32(h) >> 8)
	buf[35] = byte(uint32(h))
	return sha3.Sum256(buf[:])
}

// Height returns the current block height.
func (c *Chain) Height() int32 { return c.height }

// AdvanceBlock seals the current block and moves to the next height.
func (c *Chain) AdvanceBlock() {
	c.height++
	c.hashes[c.height] = c.deriveHash(c.height)
}

// BlockHash returns the hash of the block at the given height (zero hash for
// future heights).
func (c *Chain) BlockHash(h int32) [32]byte { return c.hashes[h] }

// Balance returns an account's balance.
func (c *Chain) Balance(addr Address) int64 { return c.balances[addr] }

// SetBalance initializes an account's balance.
func (c *Chain) SetBalance(addr Address, v int64) { c.balances[addr] = v }

// Debit removes amount from an account, clamping at zero.
func (c *Chain) Debit(addr Address, amount int64) {
	bal := c.balances[addr] - amount
	if bal < 0 {
		bal = 0
	}
	c.balances[addr] = bal
}

// FeePerStep returns the platform's per-step fee.
func (c *Chain) FeePerStep() int64 { return c.cfg.FeePerStep }

// AddTransaction confirms a transaction in the current block, assigning its
// sequence number and, if unset, its identifier. The amount is credited to
// the recipient.
func (c *Chain) AddTransaction(tx Transaction) *Transaction {
	tx.Height = c.height
	tx.Seq = c.perBlock[c.height]
	c.perBlock[c.height]++
	if tx.ID == ([32]byte{}) {
		var buf [76]byte
		copy(buf[:32], tx.From[:])
		copy(buf[32:64], tx.To[:])
		putI64(buf[64:], tx.Amount)
		putI64(buf[68:], int64(tx.Height)<<32|int64(tx.Seq)) // reuse low half
		tx.ID = sha3.Sum256(buf[:])
	}
	t := &tx
	c.incoming[tx.To] = append(c.incoming[tx.To], t)
	c.byID[tx.ID] = t
	c.balances[tx.To] += tx.Amount
	return t
}

func putI64(b []byte, v int64) {
	for i := 0; i < 8 && i < len(b); i++ {
		b[i] = byte(uint64(v) >> (56 - 8*i))
	}
}

// Payments returns every outbound payment made so far.
func (c *Chain) Payments() []Payment { return c.payments }

// Messages returns every outbound message sent so far.
func (c *Chain) Messages() []Message { return c.messages }

// RegisterPlatformFunction declares a platform-owned function code. Codes
// below avm.PlatformFunctionBase are rejected.
func (c *Chain) RegisterPlatformFunction(code uint16, fn PlatformFunction) error {
	if avm.FunctionCode(code) < avm.PlatformFunctionBase {
		return fmt.Errorf("chainsim: code 0x%04x is inside the core range", code)
	}
	c.platform[code] = fn
	return nil
}

// HostFor returns the avm.Host view of this chain for one AT.
func (c *Chain) HostFor(id, creator Address) avm.Host {
	return &atHost{chain: c, id: id, creator: creator}
}
