package connection

import (
	"fmt"
	"testing"
)

func TestQueue_FIFO(t *testing.T) {
	q := newOutboundQueue(10)

	for i := 0; i < 5; i++ {
		q.push([]byte(fmt.Sprintf("msg-%d", i)))
	}

	if q.len() != 5 {
		t.Fatalf("len = %d, want 5", q.len())
	}

	drained := q.drain()
	for i, f := range drained {
		want := fmt.Sprintf("msg-%d", i)
		if string(f.Data) != want {
			t.Errorf("drained[%d] = %q, want %q", i, f.Data, want)
		}
		if f.ID.String() == "00000000-0000-0000-0000-000000000000" {
			t.Errorf("drained[%d] has zero frame ID", i)
		}
	}

	if q.len() != 0 {
		t.Errorf("len after drain = %d, want 0", q.len())
	}
	if q.drain() != nil {
		t.Error("second drain should return nil")
	}
}

func TestQueue_DropOldestAtLimit(t *testing.T) {
	q := newOutboundQueue(3)

	for i := 0; i < 3; i++ {
		if _, dropped := q.push([]byte(fmt.Sprintf("msg-%d", i))); dropped {
			t.Fatalf("push %d dropped before limit reached", i)
		}
	}

	_, dropped := q.push([]byte("msg-3"))
	if !dropped {
		t.Fatal("expected a drop when pushing past the limit")
	}
	if q.droppedTotal() != 1 {
		t.Errorf("droppedTotal = %d, want 1", q.droppedTotal())
	}
	if q.len() != 3 {
		t.Errorf("len = %d, want 3", q.len())
	}

	drained := q.drain()
	want := []string{"msg-1", "msg-2", "msg-3"}
	for i, f := range drained {
		if string(f.Data) != want[i] {
			t.Errorf("drained[%d] = %q, want %q", i, f.Data, want[i])
		}
	}
}

func TestQueue_RequeuePreservesOrderAndIDs(t *testing.T) {
	q := newOutboundQueue(10)
	for i := 0; i < 3; i++ {
		q.push([]byte(fmt.Sprintf("msg-%d", i)))
	}

	drained := q.drain()
	ids := []string{drained[1].ID.String(), drained[2].ID.String()}

	// Put back the tail after a partial flush, then enqueue a new frame.
	q.requeue(drained[1:])
	q.push([]byte("msg-3"))

	if q.len() != 3 {
		t.Fatalf("len = %d, want 3", q.len())
	}

	redrained := q.drain()
	want := []string{"msg-1", "msg-2", "msg-3"}
	for i, f := range redrained {
		if string(f.Data) != want[i] {
			t.Errorf("redrained[%d] = %q, want %q", i, f.Data, want[i])
		}
	}
	if redrained[0].ID.String() != ids[0] || redrained[1].ID.String() != ids[1] {
		t.Error("requeue changed frame IDs")
	}
}

func TestQueue_RequeueRespectsLimit(t *testing.T) {
	q := newOutboundQueue(2)
	q.push([]byte("a"))
	q.push([]byte("b"))

	drained := q.drain()
	q.push([]byte("c"))
	q.requeue(drained)

	if q.len() != 2 {
		t.Fatalf("len = %d, want 2", q.len())
	}
	if q.droppedTotal() != 1 {
		t.Errorf("droppedTotal = %d, want 1", q.droppedTotal())
	}

	redrained := q.drain()
	if string(redrained[0].Data) != "b" || string(redrained[1].Data) != "c" {
		t.Errorf("survivors = %q, %q, want b, c", redrained[0].Data, redrained[1].Data)
	}
}

func TestQueue_MinimumLimit(t *testing.T) {
	q := newOutboundQueue(0)
	q.push([]byte("a"))
	q.push([]byte("b"))

	if q.len() != 1 {
		t.Errorf("len = %d, want 1", q.len())
	}
	if string(q.drain()[0].Data) != "b" {
		t.Error("expected newest frame to survive in a size-1 queue")
	}
}
