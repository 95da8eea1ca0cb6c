// Copyright 2026 Dolthub, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// snapshots inspects a persisted snapshot store.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/attic-labs/kingpin"
	"github.com/fatih/color"
	"github.com/sirupsen/logrus"

	"github.com/dolthub/snapstore/config"
)

func main() {
	kingpin.EnableFileExpansion = false
	app := kingpin.New("snapshots", "Inspects a persisted snapshot store.")
	app.HelpFlag.Short('h')

	configPath := app.Flag("config", "YAML or TOML config file").Short('c').String()
	dir := app.Flag("dir", "store directory, overrides the config").Short('d').String()
	backend := app.Flag("backend", "durable backend, overrides the config").Enum(config.BackendJournal, config.BackendLevelDB, config.BackendBolt)
	hashName := app.Flag("hash", "hash function, overrides the config").Enum("xxh64", "xxh3")
	verbose := app.Flag("verbose", "log replay details").Short('v').Bool()
	noColor := app.Flag("no-color", "disable colored output").Bool()

	app.Command("tree", "Prints the snapshot hierarchy")
	app.Command("leaves", "Lists snapshots without children")
	app.Command("stats", "Prints store statistics")
	lca := app.Command("lca", "Prints the least common ancestor of two snapshots")
	lcaA := lca.Arg("a", "snapshot id").Required().String()
	lcaB := lca.Arg("b", "snapshot id").Required().String()
	logCmd := app.Command("log", "Prints the source-parent chain of a snapshot")
	logID := logCmd.Arg("snapshot", "snapshot id").Required().String()
	app.Command("verify", "Replays the store verifying node hashes and leaf set")

	command := kingpin.MustParse(app.Parse(os.Args[1:]))
	if *noColor {
		color.NoColor = true
	}

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			app.Fatalf("%v", err)
		}
	}
	if *dir != "" {
		cfg.Dir = *dir
	}
	if *backend != "" {
		cfg.Backend = *backend
	}
	if *hashName != "" {
		cfg.Hash = *hashName
	}
	if cfg.Backend == config.BackendMemory {
		app.Fatalf("the memory backend has nothing to inspect")
	}
	cfg.LogLevel = logrus.WarnLevel.String()
	if *verbose {
		cfg.LogLevel = logrus.InfoLevel.String()
	}
	if command == "verify" {
		cfg.VerifyNodes = true
		cfg.RepairLeaves = false
	}

	ctx := context.Background()
	in, err := openInspector(ctx, cfg, os.Stdout)
	if err != nil {
		app.Fatalf("%v", err)
	}
	defer in.Close()

	switch command {
	case "tree":
		err = in.Tree()
	case "leaves":
		err = in.Leaves()
	case "stats":
		err = in.Stats()
	case "lca":
		err = in.LCA(*lcaA, *lcaB)
	case "log":
		err = in.Log(*logID)
	case "verify":
		err = in.Verify(ctx)
	}
	if err != nil {
		in.Close()
		fmt.Fprintln(os.Stderr, color.RedString("error: %v", err))
		os.Exit(1)
	}
}
