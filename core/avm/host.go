// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package avm

// Host is the callback surface the embedding environment provides to a
// machine. It is the only path by which an AT observes or mutates anything
// outside its own segments: the chain clock, the transaction feed, balances
// and outbound actions all live behind it.
//
// Determinism contract: for consensus every implementation must answer these
// calls identically given the same chain state, and any randomness must be
// derived from consensus-visible data such as block hashes.
type Host interface {
	// ---- Clock / chain -----------------------------------------------------

	// CurrentBlockHeight returns the height of the block being processed.
	CurrentBlockHeight() int32

	// PutPreviousBlockHashIntoA stores the previous block's 32-byte hash in
	// register A.
	PutPreviousBlockHashIntoA(s *MachineState)

	// ---- Transaction feed --------------------------------------------------

	// PutTransactionAfterTimestampIntoA stores in A the 32-byte identifier
	// of the first transaction addressed to this AT strictly after the given
	// packed timestamp, or all zero bytes if there is none.
	PutTransactionAfterTimestampIntoA(ts int64, s *MachineState)

	// TypeFromTransactionInA returns the type of the transaction whose
	// identifier is in A.
	TypeFromTransactionInA(s *MachineState) int64

	// AmountFromTransactionInA returns the amount attached to the
	// transaction whose identifier is in A.
	AmountFromTransactionInA(s *MachineState) int64

	// TimestampFromTransactionInA returns the packed timestamp of the
	// transaction whose identifier is in A.
	TimestampFromTransactionInA(s *MachineState) int64

	// GenerateRandomUsingTransactionInA derives a random value from the
	// transaction in A and a block hash that was not known when the
	// transaction was made. Implementations typically run in two phases: if
	// FirstOpAfterSleep is clear they put the machine to sleep for one block
	// (the interpreter then re-executes the calling opcode on wake-up);
	// otherwise they return the derived value.
	GenerateRandomUsingTransactionInA(s *MachineState) int64

	// PutMessageFromTransactionInAIntoB stores the 32-byte message payload
	// of the transaction in A into register B.
	PutMessageFromTransactionInAIntoB(s *MachineState)

	// PutAddressFromTransactionInAIntoB stores the sender address of the
	// transaction in A into register B.
	PutAddressFromTransactionInAIntoB(s *MachineState)

	// PutCreatorAddressIntoB stores the AT creator's address in register B.
	PutCreatorAddressIntoB(s *MachineState)

	// ---- Actions -----------------------------------------------------------

	// PayAmountToB sends amount (capped at the current balance) to the
	// address in register B and updates the machine's balance view.
	PayAmountToB(amount int64, s *MachineState)

	// MessageAToB sends the content of register A as a message to the
	// address in register B.
	MessageAToB(s *MachineState)

	// OnFinished settles a finished machine: the remaining balance is
	// refunded to the creator.
	OnFinished(balance int64, s *MachineState)

	// OnFatalError is invoked when a fault is not covered by an on-error
	// address; the machine has already been finished with HadFatalError set.
	OnFatalError(s *MachineState, err error)

	// ---- Timing math -------------------------------------------------------

	// AddMinutesToTimestamp returns the packed timestamp that lies the given
	// number of minutes past ts, using the platform's block cadence.
	AddMinutesToTimestamp(ts int64, minutes int64, s *MachineState) int64

	// ---- Metering ----------------------------------------------------------

	// MaxStepsPerRound returns the step budget of one execution round.
	MaxStepsPerRound() int32

	// OpCodeSteps returns the step cost of one opcode.
	OpCodeSteps(op OpCode) int32

	// FeePerStep returns the fee charged per executed step.
	FeePerStep() int64

	// ---- Platform-specific function codes ----------------------------------
	// Function codes at or above PlatformFunctionBase are owned by the
	// platform. The pre-check validates the opcode shape against the
	// platform's declaration; the execute hook performs the call.

	PlatformSpecificPreExecuteCheck(paramCount int, returnsValue bool, s *MachineState, rawCode uint16) error

	PlatformSpecificPostCheckExecute(functionData []int64, s *MachineState, rawCode uint16) (int64, error)
}

// DefaultOpCodeSteps is the conventional per-opcode cost: external function
// calls charge ExtFunStepCost, everything else one step. Hosts may use it
// directly as their OpCodeSteps implementation.
func DefaultOpCodeSteps(op OpCode) int32 {
	if op.IsExtFun() {
		return ExtFunStepCost
	}
	return 1
}

// ExtFunStepCost is the default step cost of EXT_FUN-family opcodes.
const ExtFunStepCost = 10
