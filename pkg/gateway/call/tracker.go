package call

import (
	"context"
	"sync"
)

// Handle is what the tracker can do to a live call during drain.
type Handle struct {
	Cancel func()
}

// Tracker follows the set of live calls so shutdown can cancel them and wait
// for their finalize paths to run.
type Tracker struct {
	mu    sync.Mutex
	calls map[string]*trackedCall
	wg    sync.WaitGroup
}

type trackedCall struct {
	handle Handle
	once   sync.Once
}

func NewTracker() *Tracker {
	return &Tracker{
		calls: make(map[string]*trackedCall),
	}
}

// Register adds a call under its SID and returns its unregister func. A
// second registration under the same SID replaces the first.
func (t *Tracker) Register(callSID string, h Handle) (unregister func()) {
	if t == nil {
		return func() {}
	}

	entry := &trackedCall{handle: h}

	t.mu.Lock()
	if t.calls == nil {
		t.calls = make(map[string]*trackedCall)
	}
	old := t.calls[callSID]
	t.calls[callSID] = entry
	t.wg.Add(1)
	t.mu.Unlock()

	if old != nil {
		t.unregister(callSID, old)
	}

	return func() { t.unregister(callSID, entry) }
}

func (t *Tracker) unregister(callSID string, entry *trackedCall) {
	if t == nil || entry == nil {
		return
	}
	entry.once.Do(func() {
		t.mu.Lock()
		if t.calls != nil && t.calls[callSID] == entry {
			delete(t.calls, callSID)
		}
		t.mu.Unlock()
		t.wg.Done()
	})
}

func (t *Tracker) Count() int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}

// CancelAll asks every live call to wind down.
func (t *Tracker) CancelAll() (canceled int) {
	if t == nil {
		return 0
	}

	var cancels []func()
	t.mu.Lock()
	for _, entry := range t.calls {
		if entry == nil || entry.handle.Cancel == nil {
			continue
		}
		cancels = append(cancels, entry.handle.Cancel)
	}
	t.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
		canceled++
	}
	return canceled
}

// Wait blocks until every registered call has unregistered, or ctx expires.
func (t *Tracker) Wait(ctx context.Context) bool {
	if t == nil {
		return true
	}
	if ctx == nil {
		t.wg.Wait()
		return true
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		t.wg.Wait()
	}()

	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
