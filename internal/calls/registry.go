package calls

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Registry is the process-wide call manager. It owns the call map and the
// mission-prompt store behind one mutex, so mission pop and status updates are
// atomic with respect to each other.
//
// Entries are in-memory only; a terminal entry is evicted after the retention
// window instead of growing the map forever.
type Registry struct {
	mu       sync.Mutex
	calls    map[string]*Call
	missions map[string]string

	retention time.Duration
	clock     func() time.Time
}

func NewRegistry(retention time.Duration) *Registry {
	return &Registry{
		calls:     map[string]*Call{},
		missions:  map[string]string{},
		retention: retention,
		clock:     time.Now,
	}
}

// Track creates or updates the entry for callSID and applies mutate to it.
// The entry's UpdatedAt is always refreshed.
func (r *Registry) Track(callSID string, status CallStatus, mutate func(*Call)) {
	if callSID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock().UTC()
	c, ok := r.calls[callSID]
	if !ok {
		c = &Call{CallSID: callSID, CreatedAt: now}
		r.calls[callSID] = c
	}
	c.Status = status
	c.UpdatedAt = now
	if mutate != nil {
		mutate(c)
	}
}

// Get returns a copy of the entry for callSID.
func (r *Registry) Get(callSID string) (Call, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.calls[callSID]
	if !ok {
		return Call{}, false
	}
	return *c, true
}

// StoreMission stores the rendered mission prompt for an outbound call before
// it is dialed. The prompt travels only through this store, never through the
// telephony control-plane.
func (r *Registry) StoreMission(callSID, prompt string) {
	if callSID == "" || prompt == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.missions[callSID] = prompt
}

// PopMission consumes the mission prompt for callSID. A second pop for the
// same call finds nothing.
func (r *Registry) PopMission(callSID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	prompt, ok := r.missions[callSID]
	if ok {
		delete(r.missions, callSID)
	}
	return prompt, ok
}

// RecordResult records a reported mission outcome and marks the call completed.
func (r *Registry) RecordResult(callSID string, res Result) {
	r.Track(callSID, StatusCompleted, func(c *Call) {
		res := res
		c.Result = &res
		c.Reason = ""
	})
}

// RecordEndedWithoutResult finalizes a call that ended with no mission result.
// More specific terminal outcomes win: an entry already completed, failed, or
// ended with a reason is left untouched.
func (r *Registry) RecordEndedWithoutResult(callSID, reason string) {
	if callSID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.calls[callSID]
	if ok && c.Status.Terminal() {
		return
	}
	now := r.clock().UTC()
	if !ok {
		c = &Call{CallSID: callSID, CreatedAt: now}
		r.calls[callSID] = c
	}
	c.Status = StatusEndedWithoutResult
	c.Reason = reason
	c.UpdatedAt = now
}

// RecordFailed marks a call failed with a reason code. Any undelivered mission
// prompt for the call is discarded. The first terminal outcome wins: an entry
// that is already terminal keeps its status against a late failure callback.
func (r *Registry) RecordFailed(callSID, reason string) {
	if callSID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.missions, callSID)
	c, ok := r.calls[callSID]
	if ok && c.Status.Terminal() {
		return
	}
	now := r.clock().UTC()
	if !ok {
		c = &Call{CallSID: callSID, CreatedAt: now}
		r.calls[callSID] = c
	}
	c.Status = StatusFailed
	c.Reason = reason
	c.UpdatedAt = now
}

// advance applies an intermediate provider status. Terminal entries are left
// untouched, so an out-of-order callback cannot resurrect a finished call.
func (r *Registry) advance(callSID string, status CallStatus) {
	if callSID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.calls[callSID]
	if ok && c.Status.Terminal() {
		return
	}
	now := r.clock().UTC()
	if !ok {
		c = &Call{CallSID: callSID, CreatedAt: now}
		r.calls[callSID] = c
	}
	c.Status = status
	c.UpdatedAt = now
}

// ApplyProviderStatus maps a telephony status-callback value onto the entry.
// Unknown values are stored as-is for the intermediate states the provider
// reports (initiated, ringing, answered, in-progress).
func (r *Registry) ApplyProviderStatus(callSID, providerStatus string) {
	switch providerStatus {
	case "busy", "no-answer", "failed", "canceled":
		r.RecordFailed(callSID, providerStatus)
	case "completed":
		r.RecordEndedWithoutResult(callSID, "")
	case "initiated":
		r.advance(callSID, StatusInitiated)
	case "ringing":
		r.advance(callSID, StatusRinging)
	case "answered":
		r.advance(callSID, StatusAnswered)
	case "in-progress":
		r.advance(callSID, StatusInProgress)
	default:
		r.advance(callSID, CallStatus(providerStatus))
	}
}

// Len reports the number of tracked calls.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

// Evict removes terminal entries older than the retention window and orphaned
// missions whose call already reached a terminal state. Returns the number of
// evicted calls.
func (r *Registry) Evict() int {
	if r.retention <= 0 {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.clock().UTC().Add(-r.retention)
	n := 0
	for sid, c := range r.calls {
		if c.Status.Terminal() && c.UpdatedAt.Before(cutoff) {
			delete(r.calls, sid)
			delete(r.missions, sid)
			n++
		}
	}
	return n
}

// RunEviction sweeps periodically until ctx is done.
func (r *Registry) RunEviction(ctx context.Context, interval time.Duration, log *slog.Logger) {
	if r.retention <= 0 || interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := r.Evict(); n > 0 && log != nil {
				log.Debug("evicted call entries", "count", n)
			}
		}
	}
}
