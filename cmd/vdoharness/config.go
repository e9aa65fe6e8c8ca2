package main

import (
	"fmt"
	"path/filepath"

	cli "gopkg.in/urfave/cli.v1"

	"github.com/berithfoundation/vdocore/internal/engine"
	"github.com/berithfoundation/vdocore/internal/index"
	"github.com/berithfoundation/vdocore/internal/physical"
	"github.com/berithfoundation/vdocore/internal/recoveryjournal"
	"github.com/berithfoundation/vdocore/internal/vdoconfig"
)

var (
	configFileFlag = cli.StringFlag{
		Name:  "config",
		Usage: "TOML file with journal/zone tunables (defaults if omitted)",
	}
	dataDirFlag = cli.StringFlag{
		Name:  "datadir",
		Usage: "directory for the leveldb block and journal stores; empty runs entirely in memory",
	}
	writePolicyFlag = cli.StringFlag{
		Name:  "write-policy",
		Usage: "recovery journal write policy: sync, async, async-unsafe",
	}
	zonesFlag = cli.IntFlag{
		Name:  "zones",
		Usage: "number of hash-zone shards",
	}
	scenarioFlag = cli.StringFlag{
		Name:  "scenario",
		Usage: "run a named scenario and exit instead of starting the interactive console",
	}
)

// loadConfig builds a vdoconfig.Config from an optional TOML file, then
// applies command-line overrides, the same layering makeConfigNode uses
// for berConfig: defaults, then file, then flags.
func loadConfig(ctx *cli.Context) (vdoconfig.Config, error) {
	cfg := vdoconfig.Default()
	if file := ctx.GlobalString(configFileFlag.Name); file != "" {
		loaded, err := vdoconfig.Load(file)
		if err != nil {
			return cfg, fmt.Errorf("vdoharness: load config: %w", err)
		}
		cfg = loaded
	}
	if ctx.GlobalIsSet(writePolicyFlag.Name) {
		cfg.WritePolicy = vdoconfig.WritePolicy(ctx.GlobalString(writePolicyFlag.Name))
	}
	if ctx.GlobalIsSet(zonesFlag.Name) {
		cfg.HashZones = ctx.GlobalInt(zonesFlag.Name)
	}
	return cfg, nil
}

// harness bundles the running engine with the resources that must be
// cleaned up on exit.
type harness struct {
	Engine *engine.Engine
	Index  index.Client
	close  func() error
}

func (h *harness) Close() error {
	if h.close == nil {
		return nil
	}
	return h.close()
}

// buildHarness wires an engine.Engine out of cfg, choosing the in-memory
// or leveldb-backed physical stores depending on datadir (§2 domain
// stack: syndtr/goleveldb, VictoriaMetrics/fastcache behind LevelDBStore).
func buildHarness(cfg vdoconfig.Config, datadir string) (*harness, error) {
	policy, err := cfg.RecoveryJournalPolicy()
	if err != nil {
		return nil, err
	}

	depot := physical.NewMemSlabDepot()
	idx := index.NewMemClient(cfg.IndexMemoEntries)
	packer := physical.NewSnappyPacker()

	var (
		blockStore   physical.BlockStore
		journalStore physical.JournalBlockStore
		flush        physical.FlushResource
		closeFn      func() error
	)

	if datadir == "" {
		blockStore = physical.NewMemBlockStore()
		journalStore = physical.NewMemJournalBlockStore()
		flush = physical.NoopFlushResource{}
		closeFn = func() error { return nil }
	} else {
		store, err := physical.OpenLevelDBStore(filepath.Join(datadir, "blocks"), 32<<20)
		if err != nil {
			return nil, err
		}
		blockStore = store
		journalStore = store.AsJournalBlockStore()
		flush = physical.NewDiskFlushResource(datadir, 0, nil)
		closeFn = store.Close
	}

	collab := engine.NewCollaborators(idx, depot, blockStore, packer, 1)
	journal := recoveryjournal.New(recoveryjournal.Config{
		Size:             cfg.JournalSize,
		EntriesPerBlock:  cfg.EntriesPerBlock,
		NumLogicalZones:  cfg.NumLogicalZones,
		NumPhysicalZones: cfg.NumPhysicalZones,
		WritePolicy:      policy,
		Store:            journalStore,
		Flush:            flush,
		Committer:        physical.NewMemSlabJournalCommitter(),
		EraNotifier:      physical.NewMemBlockMapEraNotifier(),
	})

	zones := cfg.HashZones
	if zones <= 0 {
		zones = 1
	}
	eng := engine.New(zones, collab, engine.ContentComparer{}, journal)
	return &harness{Engine: eng, Index: idx, close: closeFn}, nil
}
