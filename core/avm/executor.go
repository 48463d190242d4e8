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
	"errors"

	"github.com/ethereum/go-ethereum/log"
)

// Executor drives one machine through execution rounds. The host calls
// RunRound once per block; between rounds the machine state is fully
// quiescent and can be snapshotted.
type Executor struct {
	state  *MachineState
	host   Host
	in     *Interpreter
	logger log.Logger
}

// NewExecutor builds an executor for the given machine and host.
func NewExecutor(state *MachineState, host Host) *Executor {
	return &Executor{
		state:  state,
		host:   host,
		in:     NewInterpreter(state, host),
		logger: log.New("module", "avm"),
	}
}

// State returns the machine this executor drives.
func (e *Executor) State() *MachineState { return e.state }

// RunRound advances the machine until it sleeps, stops, finishes or exhausts
// the host's step budget, and returns the number of steps charged. A
// finished machine, a machine still frozen for lack of balance and a machine
// sleeping past the current block are all no-ops.
//
// The caller is expected to have refreshed the machine's balance view via
// SetCurrentBalance before the round, and to debit fees for the returned
// steps afterwards.
func (e *Executor) RunRound() int32 {
	s := e.state
	height := e.host.CurrentBlockHeight()

	if s.finished {
		return 0
	}
	if s.currentBalance < s.frozenBalance {
		if !s.frozen {
			s.frozen = true
			e.logger.Debug("Machine frozen", "height", height, "balance", s.currentBalance, "threshold", s.frozenBalance)
		}
		return 0
	}
	s.frozen = false

	if s.sleeping {
		if height < s.sleepUntil {
			return 0
		}
		s.sleeping = false
		s.firstOpAfterSleep = true
	}

	s.stopped = false
	s.stepsThisRound = 0
	s.previousBalance = s.currentBalance
	s.running = true
	maxSteps := e.host.MaxStepsPerRound()

	for {
		op, err := s.NextOpCode()
		if err != nil {
			e.fatal(err)
			break
		}
		cost := e.host.OpCodeSteps(op)
		if s.stepsThisRound+cost > maxSteps {
			// Budget exhausted: yield until the next block. The machine
			// resumes at the current PC, on an opcode boundary.
			s.sleeping = true
			s.sleepUntil = height + 1
			break
		}
		s.stepsThisRound += cost

		if err := e.in.Step(); err != nil {
			if !errors.Is(err, ErrCodeUnderflow) && s.onErrorAddr >= 0 && int(s.onErrorAddr) < len(s.code) {
				s.hadFatalError = false
				s.pc = uint32(s.onErrorAddr)
				s.firstOpAfterSleep = false
				continue
			}
			e.fatal(err)
			break
		}
		s.firstOpAfterSleep = false

		if s.sleeping || s.stopped || s.finished {
			break
		}
	}

	s.running = false
	e.logger.Debug("Round complete", "height", height, "steps", s.stepsThisRound,
		"pc", s.pc, "sleeping", s.sleeping, "stopped", s.stopped, "finished", s.finished)

	if s.finished {
		e.host.OnFinished(s.currentBalance, s)
	}
	return s.stepsThisRound
}

// fatal latches an unhandled fault: the machine finishes with HadFatalError
// set and never runs again.
func (e *Executor) fatal(err error) {
	s := e.state
	s.hadFatalError = true
	s.finished = true
	e.logger.Debug("Machine fault", "pc", s.pc, "err", err)
	e.host.OnFatalError(s, err)
}
