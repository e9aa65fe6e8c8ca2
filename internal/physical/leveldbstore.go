package physical

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/VictoriaMetrics/fastcache"
	"github.com/berithfoundation/vdocore/internal/vtypes"
	"github.com/syndtr/goleveldb/leveldb"
)

// LevelDBStore is a BlockStore and JournalBlockStore backed by
// syndtr/goleveldb, fronted by a fastcache read cache so a hot duplicate
// PBN's repeated VERIFYING reads do not all reach disk. The slab-journal
// and block-map on-disk formats remain out of scope (§1); this only
// covers the physical block payloads and the journal's own block slots,
// both of which the core consumes directly.
type LevelDBStore struct {
	db    *leveldb.DB
	cache *fastcache.Cache
}

const compressedFlagByte = 1

// OpenLevelDBStore opens (or creates) a leveldb database at dir, with an
// in-memory read cache of cacheSizeBytes.
func OpenLevelDBStore(dir string, cacheSizeBytes int) (*LevelDBStore, error) {
	db, err := leveldb.OpenFile(dir, nil)
	if err != nil {
		return nil, fmt.Errorf("physical: open leveldb store: %w", err)
	}
	return &LevelDBStore{
		db:    db,
		cache: fastcache.New(cacheSizeBytes),
	}, nil
}

func (s *LevelDBStore) Close() error {
	return s.db.Close()
}

func blockKey(pbn vtypes.PBN) []byte {
	key := make([]byte, 9)
	key[0] = 'b'
	binary.BigEndian.PutUint64(key[1:], uint64(pbn))
	return key
}

// ReadBlock implements BlockStore.
func (s *LevelDBStore) ReadBlock(_ context.Context, pbn vtypes.PBN) ([]byte, bool, error) {
	key := blockKey(pbn)
	if cached, ok := s.cache.HasGet(nil, key); ok {
		return decodeStoredBlock(cached)
	}
	raw, err := s.db.Get(key, nil)
	if err != nil {
		if err == leveldb.ErrNotFound {
			return nil, false, fmt.Errorf("physical: pbn %d not found", pbn)
		}
		return nil, false, err
	}
	s.cache.Set(key, raw)
	return decodeStoredBlock(raw)
}

// WriteBlock implements BlockStore.
func (s *LevelDBStore) WriteBlock(_ context.Context, pbn vtypes.PBN, data []byte, compressed bool) error {
	key := blockKey(pbn)
	raw := encodeStoredBlock(data, compressed)
	if err := s.db.Put(key, raw, nil); err != nil {
		return err
	}
	s.cache.Set(key, raw)
	return nil
}

func encodeStoredBlock(data []byte, compressed bool) []byte {
	raw := make([]byte, 1+len(data))
	if compressed {
		raw[0] = compressedFlagByte
	}
	copy(raw[1:], data)
	return raw
}

func decodeStoredBlock(raw []byte) ([]byte, bool, error) {
	if len(raw) < 1 {
		return nil, false, fmt.Errorf("physical: stored block too short")
	}
	data := make([]byte, len(raw)-1)
	copy(data, raw[1:])
	return data, raw[0] == compressedFlagByte, nil
}

func journalKey(blockNumber uint64) []byte {
	key := make([]byte, 9)
	key[0] = 'j'
	binary.BigEndian.PutUint64(key[1:], blockNumber)
	return key
}

// WriteJournalBlock stores a journal block slot; AsJournalBlockStore
// exposes it as JournalBlockStore.WriteBlock.
func (s *LevelDBStore) WriteJournalBlock(_ context.Context, blockNumber uint64, payload []byte) error {
	return s.db.Put(journalKey(blockNumber), payload, nil)
}

// ReadJournalBlock loads a journal block slot; AsJournalBlockStore
// exposes it as JournalBlockStore.ReadBlock.
func (s *LevelDBStore) ReadJournalBlock(_ context.Context, blockNumber uint64) ([]byte, error) {
	raw, err := s.db.Get(journalKey(blockNumber), nil)
	if err == leveldb.ErrNotFound {
		return nil, fmt.Errorf("physical: journal block %d not found", blockNumber)
	}
	return raw, err
}

// journalStoreAdapter narrows LevelDBStore to the JournalBlockStore
// interface, whose method names collide with BlockStore's.
type journalStoreAdapter struct {
	store *LevelDBStore
}

func (a journalStoreAdapter) WriteBlock(ctx context.Context, blockNumber uint64, payload []byte) error {
	return a.store.WriteJournalBlock(ctx, blockNumber, payload)
}

func (a journalStoreAdapter) ReadBlock(ctx context.Context, blockNumber uint64) ([]byte, error) {
	return a.store.ReadJournalBlock(ctx, blockNumber)
}

// AsJournalBlockStore adapts the same underlying leveldb database to the
// JournalBlockStore interface.
func (s *LevelDBStore) AsJournalBlockStore() JournalBlockStore {
	return journalStoreAdapter{store: s}
}
