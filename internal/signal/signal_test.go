package signal

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestSubscribe_ReceivesDispatchedSignal(t *testing.T) {
	d := NewDispatcher()
	ch, cancel := d.Subscribe(1)
	defer cancel()

	d.Dispatch(Signal{Kind: KindPause, AgentID: "agent-1", Reason: "maintenance"})

	select {
	case sig := <-ch:
		assert.Equal(t, KindPause, sig.Kind)
		assert.Equal(t, "agent-1", sig.AgentID)
		assert.Equal(t, "maintenance", sig.Reason)
		assert.False(t, sig.Time.IsZero())
	case <-time.After(time.Second):
		t.Fatal("no signal received")
	}
}

func TestDispatch_FullBufferDoesNotBlock(t *testing.T) {
	d := NewDispatcher()
	_, cancel := d.Subscribe(1)
	defer cancel()

	done := make(chan struct{})
	go func() {
		// Second dispatch overflows the buffer; it must be dropped, not block.
		d.Dispatch(Signal{Kind: KindPause, AgentID: "a"})
		d.Dispatch(Signal{Kind: KindPause, AgentID: "a"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatch blocked on a full subscriber")
	}
}

func TestSubscribe_CancelClosesChannel(t *testing.T) {
	d := NewDispatcher()
	ch, cancel := d.Subscribe(1)
	cancel()
	cancel() // idempotent

	_, open := <-ch
	assert.False(t, open)
}

func TestRaise_DispatchesTerminateAndReturnsPanic(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	d := NewDispatcher(WithClock(fixedClock(now)))
	ch, cancel := d.Subscribe(1)
	defer cancel()

	kp := d.Raise("agent-1", "delete_records", "tool not in capability set", false)
	require.NotNil(t, kp)
	assert.Equal(t, KindTerminate, kp.Sig.Kind)
	assert.Equal(t, now, kp.Sig.Time)
	assert.False(t, kp.QuotaExceeded)

	sig := <-ch
	assert.Equal(t, KindTerminate, sig.Kind)
	assert.Equal(t, "delete_records", sig.Tool)
}

func TestKernelPanic_ErrorsAsThroughWrapping(t *testing.T) {
	d := NewDispatcher()
	kp := d.Raise("agent-1", "refund", "requests_per_minute quota exhausted", true)

	wrapped := fmt.Errorf("syscall failed: %w", kp)
	got, ok := IsPanic(wrapped)
	require.True(t, ok)
	assert.True(t, got.QuotaExceeded)
	assert.Contains(t, got.Error(), "quota exceeded")
}

func TestPauseContinue_EmitKinds(t *testing.T) {
	d := NewDispatcher()
	ch, cancel := d.Subscribe(2)
	defer cancel()

	d.Pause("agent-1", "operator hold")
	d.Continue("agent-1", "operator release")

	first := <-ch
	second := <-ch
	assert.Equal(t, KindPause, first.Kind)
	assert.Equal(t, KindContinue, second.Kind)
}
