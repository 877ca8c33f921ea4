// Package signal converts policy verdicts into kernel control signals and
// carries the fatal fault type raised on a denial.
package signal

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Kind enumerates the control signals a kernel can emit.
type Kind string

const (
	// KindTerminate orders the in-flight operation killed immediately. It is
	// the agent-level analogue of an unmaskable process-kill signal.
	KindTerminate Kind = "terminate"
	// KindPause asks the lifecycle layer to stop an agent resumably.
	KindPause Kind = "pause"
	// KindContinue resumes a previously paused agent.
	KindContinue Kind = "continue"
)

// Signal is one control event emitted by the dispatcher. It is acted upon by
// the external lifecycle layer, not by the kernel core.
type Signal struct {
	Kind    Kind      `json:"kind"`
	AgentID string    `json:"agent_id"`
	Tool    string    `json:"tool,omitempty"`
	Reason  string    `json:"reason"`
	Time    time.Time `json:"time"`
}

// Dispatcher fans signals out to subscribers. Delivery is best effort: a
// subscriber whose buffer is full misses the signal rather than stalling the
// syscall path.
type Dispatcher struct {
	mu     sync.Mutex
	subs   map[int]chan Signal
	nextID int
	now    func() time.Time
	log    zerolog.Logger
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithLogger sets the dispatcher's logger.
func WithLogger(log zerolog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.log = log
	}
}

// WithClock overrides the time source (for testing).
func WithClock(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) {
		d.now = now
	}
}

// NewDispatcher creates a Dispatcher with no subscribers.
func NewDispatcher(opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		subs: make(map[int]chan Signal),
		now:  time.Now,
		log:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Subscribe registers a signal channel with the given buffer size and returns
// it together with a cancel function. Cancel closes the channel.
func (d *Dispatcher) Subscribe(buffer int) (<-chan Signal, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Signal, buffer)

	d.mu.Lock()
	id := d.nextID
	d.nextID++
	d.subs[id] = ch
	d.mu.Unlock()

	cancel := func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		if sub, ok := d.subs[id]; ok {
			delete(d.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Dispatch delivers sig to every subscriber without blocking.
func (d *Dispatcher) Dispatch(sig Signal) {
	if sig.Time.IsZero() {
		sig.Time = d.now()
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for id, ch := range d.subs {
		select {
		case ch <- sig:
		default:
			d.log.Warn().
				Int("subscriber", id).
				Str("kind", string(sig.Kind)).
				Str("agent_id", sig.AgentID).
				Msg("signal dropped: subscriber buffer full")
		}
	}
}

// Pause emits a pause signal for the agent.
func (d *Dispatcher) Pause(agentID, reason string) {
	d.Dispatch(Signal{Kind: KindPause, AgentID: agentID, Reason: reason})
}

// Continue emits a continue signal for the agent.
func (d *Dispatcher) Continue(agentID, reason string) {
	d.Dispatch(Signal{Kind: KindContinue, AgentID: agentID, Reason: reason})
}

// Raise converts a policy denial into a KernelPanic and dispatches the
// corresponding terminate signal. The returned panic must propagate to the
// caller of the denied operation.
func (d *Dispatcher) Raise(agentID, tool, reason string, quota bool) *KernelPanic {
	sig := Signal{
		Kind:    KindTerminate,
		AgentID: agentID,
		Tool:    tool,
		Reason:  reason,
		Time:    d.now(),
	}
	d.Dispatch(sig)
	return &KernelPanic{Sig: sig, QuotaExceeded: quota}
}
