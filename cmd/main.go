/*
Copyright 2025 Tally Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package main provides the tally CLI: migrations and the webhook worker.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	tally "github.com/tallyfinance/tally"
	"github.com/tallyfinance/tally/config"
	"github.com/tallyfinance/tally/database"
	"github.com/tallyfinance/tally/internal/notification"
	"github.com/tallyfinance/tally/ledger"
	"github.com/tallyfinance/tally/tigerbeetle"
)

// Tally wraps the root cobra command.
type Tally struct {
	cmd *cobra.Command
}

// tallyInstance carries the engine facade and configuration into
// subcommands.
type tallyInstance struct {
	tally *tally.Tally
	cnf   *config.Configuration
}

func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

func preRun(app *tallyInstance) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := config.InitConfig("tally.json")
		if err != nil {
			log.Fatal("error loading config", err)
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}

		newTally, err := setupTally(cnf)
		if err != nil {
			notification.NotifyError(err)
			log.Fatal(err)
		}

		app.tally = newTally
		app.cnf = cnf

		return nil
	}
}

// setupTally wires the account directory and the configured transfer
// backend into a facade instance.
func setupTally(cfg *config.Configuration) (*tally.Tally, error) {
	db, err := database.NewDataSource(cfg)
	if err != nil {
		return nil, fmt.Errorf("error getting datasource: %v", err)
	}

	backend, err := selectBackend(cfg)
	if err != nil {
		return nil, err
	}

	newTally, err := tally.NewTally(db, backend)
	if err != nil {
		return nil, fmt.Errorf("error creating tally: %v", err)
	}
	return newTally, nil
}

func selectBackend(cfg *config.Configuration) (ledger.Backend, error) {
	switch cfg.Ledger.Backend {
	case config.BackendTigerBeetle:
		return tigerbeetle.NewBackend(&cfg.TigerBeetle)
	default:
		ds, err := database.GetDBConnection(cfg)
		if err != nil {
			return nil, fmt.Errorf("error getting datasource: %v", err)
		}
		return ds, nil
	}
}

// NewCLI builds the command tree.
func NewCLI() *Tally {
	var configFile string
	b := &tallyInstance{}

	var rootCmd = &cobra.Command{
		Use:   "tally",
		Short: "Interledger accounting engine",
		Run:   func(cmd *cobra.Command, args []string) {},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./tally.json", "Configuration file for tally")

	rootCmd.PersistentPreRunE = preRun(b)

	rootCmd.AddCommand(workerCommands(b))
	rootCmd.AddCommand(migrateCommands(b))

	return &Tally{cmd: rootCmd}
}

func (w Tally) executeCLI() {
	if err := w.cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	defer recoverPanic()
	cli := NewCLI()
	cli.executeCLI()
}
