package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/fjl/memsize"
	"github.com/olekukonko/tablewriter"
	"github.com/peterh/liner"

	"github.com/berithfoundation/vdocore/internal/vtypes"
)

// harnessConsole is a liner-based line console driving a running
// harness interactively, modeled on console/console.go's prompt/history
// loop but without a JavaScript runtime: each input line is one of a
// handful of fixed commands against the engine directly.
type harnessConsole struct {
	h        *harness
	out      io.Writer
	line     *liner.State
	histPath string
	nextID   uint64
}

func newHarnessConsole(h *harness, histPath string) *harnessConsole {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)
	if f, err := os.Open(histPath); err == nil {
		line.ReadHistory(f)
		f.Close()
	}
	return &harnessConsole{h: h, out: color.Output, line: line, histPath: histPath}
}

func (c *harnessConsole) Close() {
	if f, err := os.Create(c.histPath); err == nil {
		c.line.WriteHistory(f)
		f.Close()
	}
	c.line.Close()
}

const consoleWelcome = `vdoharness interactive console.
commands: submit <payload...>, dump, memsize, help, exit
`

// Interactive runs the read-eval-print loop until the user types exit or
// aborts with Ctrl-D, the same shape as console.go's Interactive but
// synchronous since there is no background evaluator to feed.
func (c *harnessConsole) Interactive(ctx context.Context) {
	fmt.Fprint(c.out, consoleWelcome)
	for {
		input, err := c.line.Prompt("vdo> ")
		if err != nil {
			if err == liner.ErrPromptAborted || err == io.EOF {
				return
			}
			fmt.Fprintln(c.out, "input error:", err)
			return
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		c.line.AppendHistory(input)
		if c.dispatch(ctx, input) {
			return
		}
	}
}

// dispatch runs one command line and reports whether the console should
// exit.
func (c *harnessConsole) dispatch(ctx context.Context, input string) bool {
	fields := strings.Fields(input)
	switch fields[0] {
	case "exit", "quit":
		return true
	case "help":
		fmt.Fprint(c.out, consoleWelcome)
	case "submit":
		c.submit(ctx, strings.TrimSpace(strings.TrimPrefix(input, fields[0])))
	case "dump":
		c.dump()
	case "memsize":
		c.memsize()
	default:
		fmt.Fprintf(c.out, "unknown command %q, try help\n", fields[0])
	}
	return false
}

func (c *harnessConsole) submit(ctx context.Context, payload string) {
	if payload == "" {
		fmt.Fprintln(c.out, "usage: submit <payload text>")
		return
	}
	c.nextID++
	vio := &vtypes.DataVIO{
		ID:            c.nextID,
		HasAllocation: true,
		Payload:       []byte(payload),
	}
	vio.Hash = hashPayload(vio.Payload)

	err := c.h.Engine.Submit(ctx, vio)
	results := []scenarioResult{{
		Label:     fmt.Sprintf("#%d", vio.ID),
		PBN:       vio.NewMapped.PBN,
		Duplicate: vio.IsDuplicate,
		Err:       err,
	}}
	printScenario(c.out, results)
}

// dump renders each hash zone's dedupe counters, the interactive
// counterpart to hashlock.Lock.DebugString() for whole-zone state.
func (c *harnessConsole) dump() {
	table := tablewriter.NewWriter(c.out)
	table.SetHeader([]string{"Zone", "Valid Advice", "Stale Advice", "Collisions", "Data Matches", "Registered", "Pooled"})
	for _, z := range c.h.Engine.Zones {
		s := z.Snapshot()
		table.Append([]string{
			fmt.Sprintf("%d", z.ID()),
			fmt.Sprintf("%d", s.ValidAdvice),
			fmt.Sprintf("%d", s.StaleAdvice),
			fmt.Sprintf("%d", s.Collisions),
			fmt.Sprintf("%d", s.DataMatches),
			fmt.Sprintf("%d", s.RegisteredLocks),
			fmt.Sprintf("%d", s.PooledLocks),
		})
	}
	table.Render()
}

// memsize reports the heap footprint of the engine's hash zones, the
// memsize diagnostic named in §2 of the domain stack.
func (c *harnessConsole) memsize() {
	sizes := memsize.Scan(c.h.Engine.Zones)
	fmt.Fprintln(c.out, sizes.Report())
}
