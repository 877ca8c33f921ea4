// Package recorder implements the flight recorder: an append-only,
// queryable trace of every kernel decision, with batched or immediate
// persistence.
package recorder

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/warden-sh/warden/internal/kernel/models"
)

// Entry is one write-once audit record. Entries are never rewritten.
type Entry struct {
	Seq             uint64         `json:"seq"`
	Timestamp       time.Time      `json:"timestamp"`
	AgentID         string         `json:"agent_id"`
	Tool            string         `json:"tool"`
	Kind            string         `json:"kind,omitempty"`
	Verdict         models.Verdict `json:"verdict"`
	Reason          string         `json:"reason,omitempty"`
	DurationMS      float64        `json:"duration_ms"`
	ArgsFingerprint string         `json:"args_fingerprint,omitempty"`
	CorrelationID   string         `json:"correlation_id,omitempty"`
}

// Store persists entries durably in append order.
type Store interface {
	Append(entries []Entry) error
	ReadAll() ([]Entry, error)
	Close() error
}

// Filter selects entries for Query. Zero fields match everything; Limit <= 0
// returns all matches.
type Filter struct {
	AgentID string
	Verdict models.Verdict
	Kind    string
	Limit   int
}

// Stats groups entry counts by verdict and by agent.
type Stats struct {
	Total     int
	ByVerdict map[models.Verdict]int
	ByAgent   map[string]int
}

// Recorder buffers, persists and indexes audit entries. In batched mode
// entries become visible to queries on Flush (or when the buffer fills);
// batch size 1 is immediate mode.
type Recorder struct {
	mu        sync.Mutex
	visible   []Entry
	pending   []Entry
	seq       uint64
	batchSize int
	store     Store

	now func() time.Time
	log zerolog.Logger
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithBatchSize sets how many entries buffer before an automatic flush.
// Values <= 1 mean immediate mode.
func WithBatchSize(n int) Option {
	return func(r *Recorder) {
		r.batchSize = n
	}
}

// WithStore attaches a durable backend. Existing entries are loaded so the
// sequence continues across restarts.
func WithStore(s Store) Option {
	return func(r *Recorder) {
		r.store = s
	}
}

// WithClock overrides the time source (for testing).
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) {
		r.now = now
	}
}

// WithLogger sets the recorder's logger.
func WithLogger(log zerolog.Logger) Option {
	return func(r *Recorder) {
		r.log = log
	}
}

// New creates a Recorder. With a store attached, previously persisted
// entries are replayed into the query index.
func New(opts ...Option) (*Recorder, error) {
	r := &Recorder{
		batchSize: 1,
		now:       time.Now,
		log:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.store != nil {
		existing, err := r.store.ReadAll()
		if err != nil {
			return nil, err
		}
		r.visible = existing
		for _, e := range existing {
			if e.Seq > r.seq {
				r.seq = e.Seq
			}
		}
	}
	return r, nil
}

// Log appends an audit entry for one kernel decision and returns it with
// sequence id and timestamp assigned.
func (r *Recorder) Log(agentID, tool string, verdict models.Verdict, reason string, durationMS float64) Entry {
	return r.Record(Entry{
		AgentID:    agentID,
		Tool:       tool,
		Verdict:    verdict,
		Reason:     reason,
		DurationMS: durationMS,
	})
}

// Record appends a prepared entry, assigning its sequence id and timestamp.
func (r *Recorder) Record(e Entry) Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	e.Seq = r.seq
	if e.Timestamp.IsZero() {
		e.Timestamp = r.now()
	}
	r.pending = append(r.pending, e)

	if r.batchSize <= 1 || len(r.pending) >= r.batchSize {
		if err := r.flushLocked(); err != nil {
			r.log.Error().Err(err).Msg("audit flush failed; entries retained in buffer")
		}
	}
	return e
}

// Flush makes all buffered entries durable and visible to queries. After a
// successful Flush the caller observes every entry it wrote.
func (r *Recorder) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.flushLocked()
}

func (r *Recorder) flushLocked() error {
	if len(r.pending) == 0 {
		return nil
	}
	if r.store != nil {
		if err := r.store.Append(r.pending); err != nil {
			return err
		}
	}
	r.visible = append(r.visible, r.pending...)
	r.pending = nil
	return nil
}

// Query returns flushed entries matching the filter, most recent first.
func (r *Recorder) Query(f Filter) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Entry
	for i := len(r.visible) - 1; i >= 0; i-- {
		e := r.visible[i]
		if f.AgentID != "" && e.AgentID != f.AgentID {
			continue
		}
		if f.Verdict != "" && e.Verdict != f.Verdict {
			continue
		}
		if f.Kind != "" && e.Kind != f.Kind {
			continue
		}
		out = append(out, e)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out
}

// Statistics returns verdict-grouped and agent-grouped counts over flushed
// entries.
func (r *Recorder) Statistics() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := Stats{
		Total:     len(r.visible),
		ByVerdict: make(map[models.Verdict]int),
		ByAgent:   make(map[string]int),
	}
	for _, e := range r.visible {
		s.ByVerdict[e.Verdict]++
		s.ByAgent[e.AgentID]++
	}
	return s
}

// Pending returns how many entries await a flush.
func (r *Recorder) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Entries returns a copy of all flushed entries in append order.
func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.visible)
}

// Fingerprint derives a stable digest of an argument map for audit entries,
// so raw argument values (which may carry secrets) are never persisted.
func Fingerprint(args map[string]any) string {
	if len(args) == 0 {
		return ""
	}
	// encoding/json emits map keys in sorted order, so the digest is stable.
	data, err := json.Marshal(args)
	if err != nil {
		data = []byte("unserializable")
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
