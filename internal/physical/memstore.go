package physical

import (
	"context"
	"sync"

	"github.com/berithfoundation/vdocore/internal/vtypes"
)

// MemBlockStore is an in-memory BlockStore, the backend cmd/vdoharness
// uses when run without a --datadir, and the one this module's own tests
// build their engines against instead of requiring a real disk.
type MemBlockStore struct {
	mu     sync.RWMutex
	blocks map[vtypes.PBN][]byte
}

func NewMemBlockStore() *MemBlockStore {
	return &MemBlockStore{blocks: make(map[vtypes.PBN][]byte)}
}

func (s *MemBlockStore) ReadBlock(_ context.Context, pbn vtypes.PBN) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	raw, ok := s.blocks[pbn]
	if !ok {
		return nil, false, nil
	}
	return decodeStoredBlock(raw)
}

func (s *MemBlockStore) WriteBlock(_ context.Context, pbn vtypes.PBN, data []byte, compressed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocks[pbn] = encodeStoredBlock(data, compressed)
	return nil
}

// MemJournalBlockStore is an in-memory JournalBlockStore counterpart to
// MemBlockStore, for the same no-disk harness/test mode.
type MemJournalBlockStore struct {
	mu     sync.Mutex
	blocks map[uint64][]byte
}

func NewMemJournalBlockStore() *MemJournalBlockStore {
	return &MemJournalBlockStore{blocks: make(map[uint64][]byte)}
}

func (s *MemJournalBlockStore) WriteBlock(_ context.Context, blockNumber uint64, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := append([]byte(nil), payload...)
	s.blocks[blockNumber] = cp
	return nil
}

func (s *MemJournalBlockStore) ReadBlock(_ context.Context, blockNumber uint64) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blocks[blockNumber], nil
}
