package stream

import (
	"context"
	"testing"
	"time"
)

func TestMemDatastoreIncrSeqMonotonic(t *testing.T) {
	m := NewMemDatastore()
	ctx := context.Background()
	a, err := m.IncrSeq(ctx, "node-1")
	if err != nil {
		t.Fatalf("incr: %v", err)
	}
	b, err := m.IncrSeq(ctx, "node-1")
	if err != nil {
		t.Fatalf("incr: %v", err)
	}
	if a != 1 || b != 2 {
		t.Fatalf("expected sequential 1,2 got %d,%d", a, b)
	}
}

func TestMemDatastoreSetGetRoundtrip(t *testing.T) {
	m := NewMemDatastore()
	ctx := context.Background()
	seq, _ := m.IncrSeq(ctx, "node-1")
	if err := m.Set(ctx, "node-1", Record{Seq: seq, Payload: []byte("x")}, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	rec, ok, err := m.Get(ctx, "node-1", seq)
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if string(rec.Payload) != "x" {
		t.Fatalf("unexpected payload: %s", rec.Payload)
	}
}

func TestMemDatastoreGetExpired(t *testing.T) {
	m := NewMemDatastore()
	ctx := context.Background()
	seq, _ := m.IncrSeq(ctx, "node-1")
	if err := m.Set(ctx, "node-1", Record{Seq: seq}, -time.Second); err != nil {
		t.Fatalf("set: %v", err)
	}
	_, ok, err := m.Get(ctx, "node-1", seq)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ok {
		t.Fatalf("expected expired record to be absent")
	}
}

func TestRegistryUnknownBackend(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Open("bogus"); err != ErrUnknownDatastore {
		t.Fatalf("expected ErrUnknownDatastore, got %v", err)
	}
}

func TestRegistryCaseInsensitive(t *testing.T) {
	r := NewRegistry()
	r.Register("Memory", func() (Datastore, error) { return NewMemDatastore(), nil })
	if _, err := r.Open("MEMORY"); err != nil {
		t.Fatalf("expected case-insensitive lookup to succeed: %v", err)
	}
}

func TestSubscribeReplaysStoredSequencesInOrder(t *testing.T) {
	m := NewMemDatastore()
	writer := NewWriter(m, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := writer.Publish(ctx, "array-x", nil, []byte{byte('a' + i)}); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	sub, err := Subscribe(subCtx, m, "array-x", 1, []byte(`{"family":"array"}`))
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	first := <-sub.Frames
	if first.Kind != FrameSchema {
		t.Fatalf("expected schema frame first, got %v", first.Kind)
	}

	var seqs []int64
	for i := 0; i < 3; i++ {
		f := <-sub.Frames
		if f.Kind != FrameData {
			t.Fatalf("expected data frame, got %v", f.Kind)
		}
		seqs = append(seqs, f.Seq)
	}
	for i, s := range seqs {
		if s != int64(i+1) {
			t.Fatalf("expected contiguous replay 1,2,3; got %v", seqs)
		}
	}
}

func TestSubscribeDeliversLiveThenEndOfStream(t *testing.T) {
	m := NewMemDatastore()
	writer := NewWriter(m, time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	sub, err := Subscribe(ctx, m, "array-y", 0, nil)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	if _, err := writer.Publish(ctx, "array-y", nil, []byte("v1")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	f := <-sub.Frames
	if f.Kind != FrameData || string(f.Payload) != "v1" {
		t.Fatalf("unexpected live frame: %+v", f)
	}

	if err := writer.CloseStream(ctx, "array-y"); err != nil {
		t.Fatalf("close stream: %v", err)
	}
	f = <-sub.Frames
	if f.Kind != FrameEndOfStream {
		t.Fatalf("expected end-of-stream frame, got %v", f.Kind)
	}

	if _, ok := <-sub.Frames; ok {
		t.Fatalf("expected frames channel to close after end-of-stream")
	}
}

func TestEventBusPublishesChildEvents(t *testing.T) {
	m := NewMemDatastore()
	writer := NewWriter(m, time.Minute)
	bus := NewEventBus(writer)
	ctx := context.Background()

	if err := bus.ChildCreated(ctx, "container-1", "sample_042"); err != nil {
		t.Fatalf("child created: %v", err)
	}

	sub, err := Subscribe(ctx, m, "container-1", 1, nil)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	f := <-sub.Frames
	if f.Kind != FrameData {
		t.Fatalf("expected data frame carrying child event, got %v", f.Kind)
	}
}
