// Package index specifies and stand-in-implements the UDS dedupe index
// client (§1, out of scope: "the transport to the dedupe index"). The
// core only consumes Query/Update; how the index is actually reached is
// somebody else's concern.
package index

import (
	"context"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"github.com/holiman/bloomfilter/v2"

	"github.com/berithfoundation/vdocore/internal/vdolog"
	"github.com/berithfoundation/vdocore/internal/vtypes"
)

// Advice is an index-returned candidate duplicate location (§3).
type Advice struct {
	vtypes.DuplicateLocation
}

// Client is the UDS index client surface the Hash Lock Engine's
// QUERYING and UPDATING states call into.
type Client interface {
	Query(ctx context.Context, hash vtypes.ChunkName) (advice Advice, found bool, err error)
	Update(ctx context.Context, hash vtypes.ChunkName, advice Advice) error
}

// MemClient is a local stand-in for the real transport: an in-memory
// table behind a bloom filter pre-check and an LRU memo of recent
// queries, the client-side shape real dedupe index clients use to avoid
// a round trip for a chunk name known not to be present.
type MemClient struct {
	mu     sync.RWMutex
	table  map[vtypes.ChunkName]Advice
	filter *bloomfilter.Filter
	memo   *lru.Cache
	log    *vdolog.Logger
}

// NewMemClient returns a client with room for approximately
// expectedEntries chunk names in its negative-membership filter.
func NewMemClient(expectedEntries uint64) *MemClient {
	filter, err := bloomfilter.NewOptimal(expectedEntries, 0.01)
	if err != nil {
		// NewOptimal only fails for a degenerate expectedEntries; fall
		// back to a fixed small filter rather than propagate a
		// constructor error through every caller.
		filter, _ = bloomfilter.New(1024, 4)
	}
	memo, _ := lru.New(4096)
	return &MemClient{
		table:  make(map[vtypes.ChunkName]Advice),
		filter: filter,
		memo:   memo,
		log:    vdolog.New("uds-index-client"),
	}
}

func filterKey(hash vtypes.ChunkName) bloomfilter.Hashable {
	return hashKey(hash)
}

type hashKey vtypes.ChunkName

func (h hashKey) Write(p []byte) (int, error) { return 0, nil }

// Sum64 satisfies bloomfilter.Hashable by folding the chunk name into a
// single 64-bit value; a false positive here only costs an extra round
// trip, never correctness, since Query always checks the table too.
func (h hashKey) Sum64() uint64 {
	var v uint64
	for i, b := range h {
		v ^= uint64(b) << uint((i%8)*8)
	}
	return v
}

// Query implements Client.
func (c *MemClient) Query(_ context.Context, hash vtypes.ChunkName) (Advice, bool, error) {
	if cached, ok := c.memo.Get(hash); ok {
		return cached.(Advice), true, nil
	}
	if !c.filter.Contains(filterKey(hash)) {
		return Advice{}, false, nil
	}
	c.mu.RLock()
	advice, found := c.table[hash]
	c.mu.RUnlock()
	if found {
		c.memo.Add(hash, advice)
	}
	return advice, found, nil
}

// Update implements Client.
func (c *MemClient) Update(_ context.Context, hash vtypes.ChunkName, advice Advice) error {
	c.mu.Lock()
	c.table[hash] = advice
	c.mu.Unlock()
	c.filter.Add(filterKey(hash))
	c.memo.Add(hash, advice)
	c.log.Debug("index updated", "hash", hash, "pbn", advice.PBN)
	return nil
}
