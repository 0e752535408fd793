package stream

import (
	"context"
	"sync"
	"time"
)

// storedRecord pairs a Record with its expiry, emulating a Redis key TTL
// without a background sweep — expiry is checked lazily on Get, matching
// "skip any whose TTL has expired" replay rule.
type storedRecord struct {
	rec     Record
	expires time.Time
}

// nodeStream holds one node's counter, stored records, and live
// subscriber channels: a single per-node sequence log.
type nodeStream struct {
	mu      sync.Mutex
	seq     int64
	records map[int64]storedRecord
	subs    map[chan int64]struct{}
}

// MemDatastore is the in-process TTL-cache-backed Datastore, used for
// tests and single-process deployments first built-in
// implementation.
type MemDatastore struct {
	mu    sync.Mutex
	nodes map[string]*nodeStream
}

func NewMemDatastore() *MemDatastore {
	return &MemDatastore{nodes: make(map[string]*nodeStream)}
}

func (m *MemDatastore) streamFor(nodeID string) *nodeStream {
	m.mu.Lock()
	defer m.mu.Unlock()
	ns, ok := m.nodes[nodeID]
	if !ok {
		ns = &nodeStream{records: make(map[int64]storedRecord), subs: make(map[chan int64]struct{})}
		m.nodes[nodeID] = ns
	}
	return ns
}

func (m *MemDatastore) IncrSeq(_ context.Context, nodeID string) (int64, error) {
	ns := m.streamFor(nodeID)
	ns.mu.Lock()
	defer ns.mu.Unlock()
	ns.seq++
	return ns.seq, nil
}

func (m *MemDatastore) CurrentSeq(_ context.Context, nodeID string) (int64, error) {
	ns := m.streamFor(nodeID)
	ns.mu.Lock()
	defer ns.mu.Unlock()
	return ns.seq, nil
}

func (m *MemDatastore) Set(_ context.Context, nodeID string, rec Record, ttl time.Duration) error {
	ns := m.streamFor(nodeID)
	ns.mu.Lock()
	defer ns.mu.Unlock()
	ns.records[rec.Seq] = storedRecord{rec: rec, expires: time.Now().Add(ttl)}
	// Sending while still holding ns.mu, the same lock Subscribe's cancel
	// takes before deleting and closing its channel, rules out a send
	// racing a concurrent close: cancel cannot run until this loop
	// releases the lock.
	for ch := range ns.subs {
		select {
		case ch <- rec.Seq:
		default:
		}
	}
	return nil
}

func (m *MemDatastore) Get(_ context.Context, nodeID string, seq int64) (Record, bool, error) {
	ns := m.streamFor(nodeID)
	ns.mu.Lock()
	defer ns.mu.Unlock()
	sr, ok := ns.records[seq]
	if !ok || time.Now().After(sr.expires) {
		return Record{}, false, nil
	}
	return sr.rec, true, nil
}

func (m *MemDatastore) Close(ctx context.Context, nodeID string, ttl time.Duration) error {
	seq, err := m.IncrSeq(ctx, nodeID)
	if err != nil {
		return err
	}
	return m.Set(ctx, nodeID, Record{Seq: seq, EndOfStream: true}, ttl)
}

// Subscribe registers a buffered channel for nodeID, mirroring
// store.Store.SubscribeLogs: buffered so a slow consumer does not block
// the publisher ("per-subscriber queues must not block the
// producer's publish"), with overflow simply dropping the notification —
// the subscriber's own Get-by-seq replay logic recovers missed sequence
// numbers on the next delivered one.
func (m *MemDatastore) Subscribe(ctx context.Context, nodeID string) (<-chan int64, func(), error) {
	ns := m.streamFor(nodeID)
	ch := make(chan int64, 64)

	ns.mu.Lock()
	ns.subs[ch] = struct{}{}
	ns.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			ns.mu.Lock()
			delete(ns.subs, ch)
			ns.mu.Unlock()
			close(ch)
		})
	}

	go func() {
		<-ctx.Done()
		cancel()
	}()

	return ch, cancel, nil
}
