package main

import (
	"context"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"golang.org/x/crypto/blake2b"

	"github.com/berithfoundation/vdocore/internal/engine"
	"github.com/berithfoundation/vdocore/internal/vtypes"
)

// hashPayload derives a chunk name from content the way the real write
// path would (§1: the hash itself is in scope, how it reaches the engine
// is not). blake2b gives the harness a realistic fixed-width name instead
// of the hand-picked bytes the core packages' own tests use.
func hashPayload(payload []byte) vtypes.ChunkName {
	return blake2b.Sum256(payload)
}

// step is one write submitted to the engine during a scenario.
type step struct {
	Label   string
	Payload []byte
}

// scenarioResult is one step's outcome, kept free of color/formatting so
// it can be asserted on directly in tests.
type scenarioResult struct {
	Label     string
	PBN       vtypes.PBN
	Duplicate bool
	Err       error
}

// scenarios are named, runnable through --scenario without starting the
// interactive console.
var scenarios = map[string][]step{
	"dedup-demo": {
		{Label: "alpha-1", Payload: []byte("the quick brown fox jumps over the lazy dog")},
		{Label: "alpha-2 (dup of alpha-1)", Payload: []byte("the quick brown fox jumps over the lazy dog")},
		{Label: "bravo-1", Payload: []byte("pack my box with five dozen liquor jugs")},
		{Label: "alpha-3 (dup of alpha-1)", Payload: []byte("the quick brown fox jumps over the lazy dog")},
		{Label: "bravo-2 (dup of bravo-1)", Payload: []byte("pack my box with five dozen liquor jugs")},
	},
}

// runScenario submits every step in order and reports what happened,
// the pure logic behind the "run a canned demo" console/CLI path.
func runScenario(ctx context.Context, eng *engine.Engine, steps []step) []scenarioResult {
	results := make([]scenarioResult, 0, len(steps))
	for i, s := range steps {
		vio := &vtypes.DataVIO{
			ID:            uint64(i + 1),
			HasAllocation: true,
			Payload:       s.Payload,
		}
		vio.Hash = hashPayload(s.Payload)
		err := eng.Submit(ctx, vio)
		results = append(results, scenarioResult{
			Label:     s.Label,
			PBN:       vio.NewMapped.PBN,
			Duplicate: vio.IsDuplicate,
			Err:       err,
		})
	}
	return results
}

// printScenario renders results as a colored table, the way
// console.go's own status lines use fatih/color and berith's miner
// logging leans on keyval tags for the same "glance at the terminal and
// know what happened" purpose.
func printScenario(w io.Writer, results []scenarioResult) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Step", "PBN", "Outcome", "Error"})

	dupe := color.New(color.FgYellow).SprintFunc()
	fresh := color.New(color.FgGreen).SprintFunc()
	fail := color.New(color.FgRed).SprintFunc()

	for _, r := range results {
		outcome := fresh("WROTE")
		if r.Duplicate {
			outcome = dupe("DEDUPED")
		}
		errText := ""
		if r.Err != nil {
			outcome = fail("FAILED")
			errText = r.Err.Error()
		}
		table.Append([]string{r.Label, fmt.Sprintf("%d", r.PBN), outcome, errText})
	}
	table.Render()
}
