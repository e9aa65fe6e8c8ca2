package waitqueue

import (
	"testing"

	"github.com/berithfoundation/vdocore/internal/vtypes"
)

func newVIO(id uint64) *vtypes.DataVIO {
	return &vtypes.DataVIO{ID: id}
}

func TestFIFOOrder(t *testing.T) {
	q := New()
	for i := uint64(1); i <= 5; i++ {
		q.Enqueue(newVIO(i))
	}
	if q.Len() != 5 {
		t.Fatalf("Len() = %d, want 5", q.Len())
	}
	for i := uint64(1); i <= 5; i++ {
		w := q.Dequeue()
		vio, ok := w.(*vtypes.DataVIO)
		if !ok {
			t.Fatalf("dequeued non-DataVIO waiter")
		}
		if vio.ID != i {
			t.Errorf("Dequeue() = %d, want %d", vio.ID, i)
		}
	}
	if !q.IsEmpty() {
		t.Errorf("queue should be empty after draining")
	}
	if q.Dequeue() != nil {
		t.Errorf("Dequeue() on empty queue should return nil")
	}
}

func TestNotifyAllPreservesOrder(t *testing.T) {
	q := New()
	for i := uint64(1); i <= 3; i++ {
		q.Enqueue(newVIO(i))
	}
	var seen []uint64
	q.NotifyAll(func(w vtypes.Waiter) {
		seen = append(seen, w.(*vtypes.DataVIO).ID)
	})
	want := []uint64{1, 2, 3}
	for i, id := range want {
		if seen[i] != id {
			t.Errorf("seen[%d] = %d, want %d", i, seen[i], id)
		}
	}
	if !q.IsEmpty() {
		t.Errorf("NotifyAll should drain the queue")
	}
}

func TestTransferAllTo(t *testing.T) {
	src, dst := New(), New()
	for i := uint64(1); i <= 4; i++ {
		src.Enqueue(newVIO(i))
	}
	dst.Enqueue(newVIO(0))
	src.TransferAllTo(dst)
	if !src.IsEmpty() {
		t.Errorf("source queue should be empty after transfer")
	}
	if dst.Len() != 5 {
		t.Fatalf("Len() = %d, want 5", dst.Len())
	}
	want := []uint64{0, 1, 2, 3, 4}
	for _, id := range want {
		w := dst.Dequeue()
		if w.(*vtypes.DataVIO).ID != id {
			t.Errorf("Dequeue() = %d, want %d", w.(*vtypes.DataVIO).ID, id)
		}
	}
}
