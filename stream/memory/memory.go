// Package memory provides an in-process stream log backend. It implements
// the full consumer-group contract without external infrastructure, which
// makes it the natural injectable fake for tests and local development.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/platformkit/eventstream/internal/runtime/envelope"
	"github.com/platformkit/eventstream/internal/runtime/logging"
	"github.com/platformkit/eventstream/stream"
)

// BackendName is the name used to register this backend.
const BackendName = "memory"

func init() {
	stream.Register(BackendName, Build, stream.MemoryCapabilities)
}

// Build creates a new in-memory stream log.
func Build(ctx context.Context, cfg stream.Config, logger logging.ServiceLogger) (stream.Log, error) {
	return New(), nil
}

// Capabilities returns the capabilities of this backend.
func Capabilities() stream.Capabilities {
	return stream.MemoryCapabilities
}

// Log is an in-memory stream.Log. The zero value is not usable; call New.
type Log struct {
	mu      sync.Mutex
	streams map[string]*streamState
	closed  bool
}

type streamState struct {
	nextSeq int64
	entries []entryRec
	groups  map[string]*groupState
	// notify is closed and replaced on every append so blocked readers wake.
	notify chan struct{}
}

type entryRec struct {
	seq   int64
	event envelope.Event
}

type groupState struct {
	cursor  int64
	pending map[int64]*pendingRec
}

type pendingRec struct {
	event       envelope.Event
	consumer    string
	deliveredAt time.Time
	deliveries  int64
}

// New creates an empty in-memory log.
func New() *Log {
	return &Log{streams: make(map[string]*streamState)}
}

func (l *Log) stream(name string) *streamState {
	s, ok := l.streams[name]
	if !ok {
		s = &streamState{
			nextSeq: 1,
			groups:  make(map[string]*groupState),
			notify:  make(chan struct{}),
		}
		l.streams[name] = s
	}
	return s
}

func (s *streamState) group(name string) *groupState {
	g, ok := s.groups[name]
	if !ok {
		g = &groupState{cursor: 1, pending: make(map[int64]*pendingRec)}
		s.groups[name] = g
	}
	return g
}

// Append stores the event and wakes any blocked readers.
func (l *Log) Append(ctx context.Context, streamName string, event envelope.Event) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return "", stream.Unavailable("append", fmt.Errorf("log is closed"))
	}

	s := l.stream(streamName)
	seq := s.nextSeq
	s.nextSeq++
	s.entries = append(s.entries, entryRec{seq: seq, event: event.Clone()})

	close(s.notify)
	s.notify = make(chan struct{})

	return formatSeq(seq), nil
}

// ReadGroup delivers the consumer's own unacknowledged entries first, then
// new entries past the group cursor. With nothing available it blocks up to
// block, waking on new appends.
func (l *Log) ReadGroup(ctx context.Context, streamName, group, consumer string, count int, block time.Duration) ([]stream.Entry, error) {
	if count <= 0 {
		count = 1
	}
	deadline := time.Now().Add(block)

	for {
		entries, notify, err := l.readOnce(streamName, group, consumer, count)
		if err != nil {
			return nil, err
		}
		if len(entries) > 0 || block <= 0 {
			return entries, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}

		timer := time.NewTimer(remaining)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
			return nil, nil
		case <-notify:
			timer.Stop()
		}
	}
}

func (l *Log) readOnce(streamName, group, consumer string, count int) ([]stream.Entry, <-chan struct{}, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, nil, stream.Unavailable("read_group", fmt.Errorf("log is closed"))
	}

	s := l.stream(streamName)
	g := s.group(group)
	now := time.Now()

	var out []stream.Entry

	// Crash recovery: redeliver this consumer's own pending entries.
	for _, seq := range sortedSeqs(g.pending) {
		if len(out) >= count {
			break
		}
		rec := g.pending[seq]
		if rec.consumer != consumer {
			continue
		}
		rec.deliveredAt = now
		rec.deliveries++
		out = append(out, stream.Entry{DeliveryID: formatSeq(seq), Event: rec.event.Clone()})
	}

	// New deliveries past the group cursor.
	for _, rec := range s.entries {
		if len(out) >= count {
			break
		}
		if rec.seq < g.cursor {
			continue
		}
		g.cursor = rec.seq + 1
		g.pending[rec.seq] = &pendingRec{
			event:       rec.event,
			consumer:    consumer,
			deliveredAt: now,
			deliveries:  1,
		}
		out = append(out, stream.Entry{DeliveryID: formatSeq(rec.seq), Event: rec.event.Clone()})
	}

	return out, s.notify, nil
}

// Ack removes the entry from the group's pending list. Unknown ids are a
// no-op.
func (l *Log) Ack(ctx context.Context, streamName, group, deliveryID string) error {
	seq, err := parseSeq(deliveryID)
	if err != nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return stream.Unavailable("ack", fmt.Errorf("log is closed"))
	}

	delete(l.stream(streamName).group(group).pending, seq)
	return nil
}

// ClaimStale reassigns entries pending longer than minIdle to consumer.
func (l *Log) ClaimStale(ctx context.Context, streamName, group, consumer string, minIdle time.Duration, count int) ([]stream.Entry, error) {
	if count <= 0 {
		count = 1
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, stream.Unavailable("claim_stale", fmt.Errorf("log is closed"))
	}

	g := l.stream(streamName).group(group)
	now := time.Now()

	var out []stream.Entry
	for _, seq := range sortedSeqs(g.pending) {
		if len(out) >= count {
			break
		}
		rec := g.pending[seq]
		if now.Sub(rec.deliveredAt) < minIdle {
			continue
		}
		rec.consumer = consumer
		rec.deliveredAt = now
		rec.deliveries++
		out = append(out, stream.Entry{DeliveryID: formatSeq(seq), Event: rec.event.Clone()})
	}
	return out, nil
}

// PendingCount reports the depth of the group's pending list.
func (l *Log) PendingCount(ctx context.Context, streamName, group string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return 0, stream.Unavailable("pending_count", fmt.Errorf("log is closed"))
	}
	return int64(len(l.stream(streamName).group(group).pending)), nil
}

// DeliveryCount reports how many times the pending entry has been delivered.
func (l *Log) DeliveryCount(ctx context.Context, streamName, group, deliveryID string) (int64, error) {
	seq, err := parseSeq(deliveryID)
	if err != nil {
		return 0, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.stream(streamName).group(group).pending[seq]
	if !ok {
		return 0, nil
	}
	return rec.deliveries, nil
}

// Trim drops the oldest entries so at most maxLen remain. Pending deliveries
// keep their own event copy, so trimming never breaks redelivery.
func (l *Log) Trim(ctx context.Context, streamName string, maxLen int64) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return 0, stream.Unavailable("trim", fmt.Errorf("log is closed"))
	}

	s := l.stream(streamName)
	excess := int64(len(s.entries)) - maxLen
	if excess <= 0 {
		return 0, nil
	}
	s.entries = append([]entryRec(nil), s.entries[excess:]...)
	return excess, nil
}

// Close marks the log closed. Subsequent operations fail with
// ErrStoreUnavailable.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

func sortedSeqs(pending map[int64]*pendingRec) []int64 {
	seqs := make([]int64, 0, len(pending))
	for seq := range pending {
		seqs = append(seqs, seq)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	return seqs
}

func formatSeq(seq int64) string {
	return strconv.FormatInt(seq, 10)
}

func parseSeq(id string) (int64, error) {
	return strconv.ParseInt(id, 10, 64)
}
