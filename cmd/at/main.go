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

// at runs automated-transaction program images against a simulated chain
// and disassembles them.
package main

import (
	"fmt"
	"io/ioutil"
	"os"

	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/crypto/sha3"
	"gopkg.in/urfave/cli.v1"

	"github.com/probechain/go-at/atdb"
	"github.com/probechain/go-at/core"
	"github.com/probechain/go-at/core/avm"
	"github.com/probechain/go-at/core/avm/asm"
	"github.com/probechain/go-at/core/chainsim"
)

var (
	blocksFlag = cli.IntFlag{
		Name:  "blocks",
		Usage: "Number of blocks to simulate",
	}
	balanceFlag = cli.Int64Flag{
		Name:  "balance",
		Usage: "Initial balance of the AT account",
	}
	dataDirFlag = cli.StringFlag{
		Name:  "datadir",
		Usage: "Directory for the snapshot database (in-memory when empty)",
	}
	verbosityFlag = cli.IntFlag{
		Name:  "verbosity",
		Usage: "Logging verbosity: 0=silent, 1=error, 2=warn, 3=info, 4=debug",
		Value: 3,
	}

	runCommand = cli.Command{
		Action:    runImage,
		Name:      "run",
		Usage:     "Run a program image against the simulated chain",
		ArgsUsage: "<image file>",
		Category:  "VM COMMANDS",
		Description: `
Loads a program image, creates an AT from it and drives it for the configured
number of blocks, printing the machine's final state.`,
	}
	disasmCommand = cli.Command{
		Action:    disasmImage,
		Name:      "disasm",
		Usage:     "Disassemble a program image's code segment",
		ArgsUsage: "<image file>",
		Category:  "VM COMMANDS",
	}
)

func main() {
	app := cli.NewApp()
	app.Name = "at"
	app.Usage = "automated transaction engine"
	app.Flags = []cli.Flag{configFileFlag, blocksFlag, balanceFlag, dataDirFlag, verbosityFlag}
	app.Commands = []cli.Command{runCommand, disasmCommand, dumpConfigCommand}
	app.Before = func(ctx *cli.Context) error {
		handler := log.LvlFilterHandler(log.Lvl(ctx.GlobalInt(verbosityFlag.Name)),
			log.StreamHandler(os.Stderr, log.TerminalFormat(false)))
		log.Root().SetHandler(handler)
		return nil
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runImage(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return fmt.Errorf("run expects exactly one image file")
	}
	cfg, err := makeConfig(ctx)
	if err != nil {
		return err
	}
	image, err := ioutil.ReadFile(ctx.Args().First())
	if err != nil {
		return err
	}

	var db *atdb.Database
	if cfg.DataDir == "" {
		db, err = atdb.NewMemory()
	} else {
		db, err = atdb.New(cfg.DataDir)
	}
	if err != nil {
		return err
	}
	defer db.Close()

	chain := chainsim.New(cfg.Sim)
	id := sha3.Sum256(image)
	creator := sha3.Sum256([]byte("creator"))
	chain.SetBalance(chainsim.Address(id), cfg.Balance)

	ctl := core.NewController(chain, db)
	if err := ctl.CreateAT(id, creator, image); err != nil {
		return err
	}

	for i := 0; i < cfg.Blocks; i++ {
		chain.AdvanceBlock()
		if err := ctl.RunBlock(); err != nil {
			return err
		}
		if ctl.ActiveCount() == 0 {
			break
		}
	}

	state, err := ctl.State(id)
	if err != nil {
		return err
	}
	fmt.Printf("height      %d\n", chain.Height())
	fmt.Printf("pc          %d\n", state.PC())
	fmt.Printf("finished    %t\n", state.Finished())
	fmt.Printf("fatal       %t\n", state.HadFatalError())
	fmt.Printf("sleeping    %t (until %d)\n", state.Sleeping(), state.SleepUntilHeight())
	fmt.Printf("stopped     %t\n", state.Stopped())
	fmt.Printf("frozen      %t\n", state.Frozen())
	fmt.Printf("balance     %d\n", chain.Balance(chainsim.Address(id)))
	fmt.Printf("payments    %d\n", len(chain.Payments()))
	fmt.Printf("messages    %d\n", len(chain.Messages()))
	return nil
}

func disasmImage(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return fmt.Errorf("disasm expects exactly one image file")
	}
	image, err := ioutil.ReadFile(ctx.Args().First())
	if err != nil {
		return err
	}
	state, err := avm.NewMachineState(image, 0, 0)
	if err != nil {
		return err
	}
	listing, err := asm.Disassemble(state.Code())
	if err != nil {
		return err
	}
	fmt.Print(listing)
	return nil
}
