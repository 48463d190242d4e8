// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package chainsim

import (
	"fmt"

	"golang.org/x/crypto/sha3"

	"github.com/probechain/go-at/core/avm"
)

// atHost adapts a Chain into the avm.Host callback surface for one AT.
type atHost struct {
	chain   *Chain
	id      Address
	creator Address
}

func (h *atHost) CurrentBlockHeight() int32 { return h.chain.height }

func (h *atHost) PutPreviousBlockHashIntoA(s *avm.MachineState) {
	s.SetABytes(h.chain.BlockHash(h.chain.height - 1))
}

func (h *atHost) PutTransactionAfterTimestampIntoA(ts int64, s *avm.MachineState) {
	for _, tx := range h.chain.incoming[h.id] {
		if tx.Height <= h.chain.height && tx.Timestamp() > ts {
			s.SetABytes(tx.ID)
			return
		}
	}
	s.SetABytes([32]byte{})
}

// txInA resolves the transaction whose identifier register A holds.
func (h *atHost) txInA(s *avm.MachineState) *Transaction {
	return h.chain.byID[s.GetABytes()]
}

func (h *atHost) TypeFromTransactionInA(s *avm.MachineState) int64 {
	if tx := h.txInA(s); tx != nil {
		return tx.Type
	}
	return -1
}

func (h *atHost) AmountFromTransactionInA(s *avm.MachineState) int64 {
	if tx := h.txInA(s); tx != nil {
		return tx.Amount
	}
	return -1
}

func (h *atHost) TimestampFromTransactionInA(s *avm.MachineState) int64 {
	if tx := h.txInA(s); tx != nil {
		return tx.Timestamp()
	}
	return -1
}

func (h *atHost) GenerateRandomUsingTransactionInA(s *avm.MachineState) int64 {
	if !s.FirstOpAfterSleep() {
		// Phase one: the entropy block is not sealed yet. Sleep one block;
		// the interpreter re-executes the calling opcode on wake-up.
		s.SetSleepUntilHeight(h.chain.height + 1)
		s.SetSleeping(true)
		return 0
	}
	id := s.GetABytes()
	hash := h.chain.BlockHash(h.chain.height)
	var buf [64]byte
	copy(buf[:32], id[:])
	copy(buf[32:], hash[:])
	digest := sha3.Sum256(buf[:])
	var v int64
	for i := 0; i < 8; i++ {
		v = v<<8 | int64(digest[i])
	}
	return v
}

func (h *atHost) PutMessageFromTransactionInAIntoB(s *avm.MachineState) {
	if tx := h.txInA(s); tx != nil {
		s.SetBBytes(tx.Message)
		return
	}
	s.SetBBytes([32]byte{})
}

func (h *atHost) PutAddressFromTransactionInAIntoB(s *avm.MachineState) {
	if tx := h.txInA(s); tx != nil {
		s.SetBBytes(tx.From)
		return
	}
	s.SetBBytes([32]byte{})
}

func (h *atHost) PutCreatorAddressIntoB(s *avm.MachineState) {
	s.SetBBytes(h.creator)
}

func (h *atHost) PayAmountToB(amount int64, s *avm.MachineState) {
	bal := s.GetCurrentBalance()
	if amount > bal {
		amount = bal
	}
	if amount <= 0 {
		return
	}
	to := Address(s.GetBBytes())
	h.chain.balances[to] += amount
	bal -= amount
	s.SetCurrentBalance(bal)
	h.chain.balances[h.id] = bal
	h.chain.payments = append(h.chain.payments, Payment{From: h.id, To: to, Amount: amount})
}

func (h *atHost) MessageAToB(s *avm.MachineState) {
	h.chain.messages = append(h.chain.messages, Message{
		From:    h.id,
		To:      Address(s.GetBBytes()),
		Payload: s.GetABytes(),
	})
}

func (h *atHost) OnFinished(balance int64, s *avm.MachineState) {
	if balance > 0 {
		h.chain.balances[h.creator] += balance
		h.chain.balances[h.id] = 0
		s.SetCurrentBalance(0)
		h.chain.payments = append(h.chain.payments, Payment{From: h.id, To: h.creator, Amount: balance})
	}
	h.chain.logger.Debug("Machine finished", "height", h.chain.height, "refund", balance)
}

func (h *atHost) OnFatalError(s *avm.MachineState, err error) {
	h.chain.logger.Debug("Machine fatal error", "height", h.chain.height, "pc", s.PC(), "err", err)
}

// AddMinutesToTimestamp advances the height half of a packed timestamp by
// the platform's one-block-per-minute cadence.
func (h *atHost) AddMinutesToTimestamp(ts, minutes int64, s *avm.MachineState) int64 {
	return ts + minutes<<32
}

func (h *atHost) MaxStepsPerRound() int32 { return h.chain.cfg.MaxStepsPerRound }

func (h *atHost) OpCodeSteps(op avm.OpCode) int32 { return avm.DefaultOpCodeSteps(op) }

func (h *atHost) FeePerStep() int64 { return h.chain.cfg.FeePerStep }

func (h *atHost) PlatformSpecificPreExecuteCheck(paramCount int, returnsValue bool, s *avm.MachineState, rawCode uint16) error {
	fn, ok := h.chain.platform[rawCode]
	if !ok {
		return fmt.Errorf("chainsim: undeclared platform code 0x%04x", rawCode)
	}
	if fn.Params != paramCount || fn.Returns != returnsValue {
		return fmt.Errorf("chainsim: platform code 0x%04x declares (%d args, returns=%t)",
			rawCode, fn.Params, fn.Returns)
	}
	return nil
}

func (h *atHost) PlatformSpecificPostCheckExecute(functionData []int64, s *avm.MachineState, rawCode uint16) (int64, error) {
	return h.chain.platform[rawCode].Execute(functionData, s)
}
