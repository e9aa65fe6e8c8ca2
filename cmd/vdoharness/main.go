// Command vdoharness drives the dedup hash-lock engine and recovery
// journal end to end, either through a canned scenario or an
// interactive console, the way cmd/berith wraps the node's services
// behind a urfave/cli app.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	cli "gopkg.in/urfave/cli.v1"

	"github.com/berithfoundation/vdocore/internal/vdoconfig"
)

var app = cli.NewApp()

func init() {
	app.Name = "vdoharness"
	app.Usage = "drive the vdocore dedup engine through scripted or interactive writes"
	app.Flags = []cli.Flag{
		configFileFlag,
		dataDirFlag,
		writePolicyFlag,
		zonesFlag,
		scenarioFlag,
	}
	app.Action = run
	app.Commands = []cli.Command{
		dumpConfigCommand,
	}
}

var dumpConfigCommand = cli.Command{
	Name:  "dumpconfig",
	Usage: "print the effective configuration as TOML and exit",
	Action: func(ctx *cli.Context) error {
		cfg, err := loadConfig(ctx)
		if err != nil {
			return err
		}
		return vdoconfig.Dump(os.Stdout, cfg)
	},
}

func run(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}

	h, err := buildHarness(cfg, ctx.GlobalString(dataDirFlag.Name))
	if err != nil {
		return err
	}
	defer h.Close()

	background := context.Background()

	if name := ctx.GlobalString(scenarioFlag.Name); name != "" {
		steps, ok := scenarios[name]
		if !ok {
			return fmt.Errorf("vdoharness: unknown scenario %q", name)
		}
		results := runScenario(background, h.Engine, steps)
		printScenario(os.Stdout, results)
		return nil
	}

	histPath := "vdoharness_history"
	if dir := ctx.GlobalString(dataDirFlag.Name); dir != "" {
		histPath = filepath.Join(dir, "history")
	}
	console := newHarnessConsole(h, histPath)
	defer console.Close()
	console.Interactive(background)
	return nil
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
