// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package avm

import "errors"

// Runtime fault taxonomy. All four are caught by the Executor: with an
// on-error address installed the PC is redirected there, otherwise the fault
// is fatal and the machine finishes with HadFatalError set.
var (
	// ErrInvalidAddress is raised by any out-of-bounds data or code access.
	ErrInvalidAddress = errors.New("avm: invalid address")

	// ErrIllegalOperation is raised by division or modulo by zero and by an
	// unknown opcode byte.
	ErrIllegalOperation = errors.New("avm: illegal operation")

	// ErrStackBounds is raised by a push on a full stack or a pop on an
	// empty one, for both the user and the call stack.
	ErrStackBounds = errors.New("avm: stack bounds")

	// ErrIllegalFunctionCode is raised by an unknown function code or by an
	// EXT_FUN opcode whose shape does not match the function's declaration.
	ErrIllegalFunctionCode = errors.New("avm: illegal function code")

	// ErrCodeUnderflow is raised when instruction decoding runs past the end
	// of the code segment. It is always fatal.
	ErrCodeUnderflow = errors.New("avm: code underflow")
)
