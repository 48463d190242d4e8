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

// Package core schedules automated transactions over blocks: it owns the
// registry of live ATs, drives each one through its execution round in
// deterministic creation order, and persists machine snapshots between
// rounds.
package core

import (
	"fmt"

	mapset "github.com/deckarep/golang-set"
	"github.com/ethereum/go-ethereum/log"
	lru "github.com/hashicorp/golang-lru"

	"github.com/probechain/go-at/atdb"
	"github.com/probechain/go-at/core/avm"
)

// ATID identifies one automated transaction.
type ATID = [32]byte

// Ledger is the controller's view of the chain: balances, fees and the
// per-AT host binding. chainsim.Chain satisfies it; a real node would adapt
// its state database.
type Ledger interface {
	Height() int32
	Balance(id ATID) int64
	Debit(id ATID, amount int64)
	FeePerStep() int64
	HostFor(id, creator ATID) avm.Host
}

// cachedStates bounds the number of deserialized machines kept hot between
// blocks; everything else is reloaded from the snapshot store on demand.
const cachedStates = 256

// Controller runs all registered ATs once per block.
type Controller struct {
	ledger Ledger
	db     *atdb.Database

	order    []ATID            // creation order, the execution order
	creators map[ATID]ATID     // AT → creator account
	active   mapset.Set        // ATs that have not finished
	states   *lru.ARCCache     // ATID → *avm.MachineState
	logger   log.Logger
}

// NewController builds a controller over the given ledger and snapshot
// store.
func NewController(ledger Ledger, db *atdb.Database) *Controller {
	states, _ := lru.NewARC(cachedStates)
	return &Controller{
		ledger:   ledger,
		db:       db,
		creators: make(map[ATID]ATID),
		active:   mapset.NewSet(),
		states:   states,
		logger:   log.New("module", "core"),
	}
}

// CreateAT registers a new AT from its program image at the current block
// height. The freeze threshold defaults to the fee of a single step.
func (c *Controller) CreateAT(id, creator ATID, image []byte) error {
	if _, ok := c.creators[id]; ok {
		return fmt.Errorf("core: AT %x already exists", id[:4])
	}
	state, err := avm.NewMachineState(image, c.ledger.Height(), c.ledger.FeePerStep())
	if err != nil {
		return err
	}
	if err := c.db.PutCode(id, state.Code()); err != nil {
		return err
	}
	if err := c.db.PutState(id, state.Serialize()); err != nil {
		return err
	}
	c.order = append(c.order, id)
	c.creators[id] = creator
	c.active.Add(id)
	c.states.Add(id, state)
	c.logger.Info("AT created", "id", fmt.Sprintf("%x", id[:8]), "height", c.ledger.Height(),
		"code", state.CodeSize(), "data", state.DataSize())
	return nil
}

// RunBlock executes one round for every active AT, in creation order, and
// persists each snapshot. Fees for the executed steps are debited from the
// AT's account.
func (c *Controller) RunBlock() error {
	height := c.ledger.Height()
	for _, id := range c.order {
		if !c.active.Contains(id) {
			continue
		}
		state, err := c.machine(id)
		if err != nil {
			return err
		}
		state.SetCurrentBalance(c.ledger.Balance(id))

		exec := avm.NewExecutor(state, c.ledger.HostFor(id, c.creators[id]))
		steps := exec.RunRound()
		if steps > 0 {
			c.ledger.Debit(id, int64(steps)*c.ledger.FeePerStep())
		}

		if err := c.db.PutState(id, state.Serialize()); err != nil {
			return err
		}
		if state.Finished() {
			c.active.Remove(id)
			c.logger.Info("AT finished", "id", fmt.Sprintf("%x", id[:8]), "height", height,
				"fatal", state.HadFatalError())
		}
	}
	return nil
}

// State returns the live machine state of an AT, loading it from the
// snapshot store if needed.
func (c *Controller) State(id ATID) (*avm.MachineState, error) {
	return c.machine(id)
}

// ActiveCount returns the number of ATs still eligible to run.
func (c *Controller) ActiveCount() int { return c.active.Cardinality() }

func (c *Controller) machine(id ATID) (*avm.MachineState, error) {
	if v, ok := c.states.Get(id); ok {
		return v.(*avm.MachineState), nil
	}
	code, err := c.db.GetCode(id)
	if err != nil {
		return nil, fmt.Errorf("core: code for AT %x: %v", id[:4], err)
	}
	snap, err := c.db.GetState(id)
	if err != nil {
		return nil, fmt.Errorf("core: snapshot for AT %x: %v", id[:4], err)
	}
	state, err := avm.DeserializeMachineState(code, snap)
	if err != nil {
		return nil, err
	}
	c.states.Add(id, state)
	return state, nil
}
