package signal

import (
	"errors"
	"fmt"
)

// KernelPanic is the fatal, unmaskable fault raised when policy denies a
// request. It is deliberately a distinct type rather than a sentinel wrapped
// into a SyscallResult: a security denial must never be representable as a
// value the caller could shrug off. Intermediate layers must not catch it and
// retry without re-validating against current policy.
type KernelPanic struct {
	Sig Signal
	// QuotaExceeded marks the denial as the quota subtype; the exhausted
	// dimension is named in the reason.
	QuotaExceeded bool
}

func (p *KernelPanic) Error() string {
	if p.QuotaExceeded {
		return fmt.Sprintf("kernel panic: quota exceeded for agent %q on %q: %s", p.Sig.AgentID, p.Sig.Tool, p.Sig.Reason)
	}
	return fmt.Sprintf("kernel panic: policy denied agent %q on %q: %s", p.Sig.AgentID, p.Sig.Tool, p.Sig.Reason)
}

// IsPanic reports whether err is (or wraps) a KernelPanic, returning it.
func IsPanic(err error) (*KernelPanic, bool) {
	var kp *KernelPanic
	if errors.As(err, &kp) {
		return kp, true
	}
	return nil, false
}
