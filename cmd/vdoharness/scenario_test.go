package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/berithfoundation/vdocore/internal/vdoconfig"
)

func newTestHarness(t *testing.T) *harness {
	t.Helper()
	cfg := vdoconfig.Default()
	cfg.HashZones = 2
	h, err := buildHarness(cfg, "")
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, h.Close()) })
	return h
}

func TestRunScenarioDedupDemoDeduplicatesRepeatedPayloads(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	results := runScenario(ctx, h.Engine, scenarios["dedup-demo"])
	require.Len(t, results, 5)

	for _, r := range results {
		require.NoError(t, r.Err)
	}

	assert.False(t, results[0].Duplicate, "alpha-1 is the first sighting of its content")
	assert.True(t, results[1].Duplicate, "alpha-2 repeats alpha-1's payload")
	assert.Equal(t, results[0].PBN, results[1].PBN)

	assert.False(t, results[2].Duplicate, "bravo-1 is new content")

	assert.True(t, results[3].Duplicate, "alpha-3 repeats alpha-1's payload")
	assert.Equal(t, results[0].PBN, results[3].PBN)

	assert.True(t, results[4].Duplicate, "bravo-2 repeats bravo-1's payload")
	assert.Equal(t, results[2].PBN, results[4].PBN)
}

func TestHashPayloadIsStableAndContentSensitive(t *testing.T) {
	a := hashPayload([]byte("same"))
	b := hashPayload([]byte("same"))
	c := hashPayload([]byte("different"))

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestPrintScenarioRendersOneRowPerStep(t *testing.T) {
	var buf bytes.Buffer
	printScenario(&buf, []scenarioResult{
		{Label: "one", PBN: 7, Duplicate: false},
		{Label: "two", PBN: 7, Duplicate: true},
	})

	out := buf.String()
	assert.Contains(t, out, "one")
	assert.Contains(t, out, "two")
}

func TestUnknownScenarioNameIsRejected(t *testing.T) {
	_, ok := scenarios["does-not-exist"]
	assert.False(t, ok)
}
