package poller

import (
	"context"
	"sync"
	"time"

	"genproxy/internal/gateway"
	"genproxy/internal/infra"
)

// maxConsecutiveCheckFailures bounds transient polling faults before the
// poll is abandoned with an error, so a dead endpoint never leaves a
// poller running indefinitely.
const maxConsecutiveCheckFailures = 5

// CheckFunc queries the current state of an operation handle once.
type CheckFunc func(ctx context.Context) (*gateway.Operation, error)

// DoneFunc receives the success payload of a finished operation.
type DoneFunc func(result gateway.OperationResult)

// ErrorFunc receives the terminal failure of a poll.
type ErrorFunc func(err error)

// Poller runs fixed-delay recurring checks keyed by operation identity.
// At most one entry exists per key and the next check is only scheduled
// after the previous one returned, so slow checks never stack up. Cancel
// is idempotent and safe after the poll already terminated; a check in
// flight at cancellation completes but its outcome is discarded.
type Poller struct {
	logger infra.Logger

	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	timer     *time.Timer
	cancelled bool
	failures  int
}

// New creates a Poller.
func New(logger infra.Logger) *Poller {
	return &Poller{
		logger:  logger,
		entries: make(map[string]*entry),
	}
}

// Start begins polling the given key at a fixed delay. It reports false
// when a poll for the key is already active. Exactly one of onDone or
// onError fires once, after which the entry is removed.
func (p *Poller) Start(ctx context.Context, key string, interval time.Duration, check CheckFunc, onDone DoneFunc, onError ErrorFunc) bool {
	p.mu.Lock()
	if _, active := p.entries[key]; active {
		p.mu.Unlock()
		return false
	}
	e := &entry{}
	p.entries[key] = e
	e.timer = time.AfterFunc(interval, func() { p.tick(ctx, key, interval, check, onDone, onError) })
	p.mu.Unlock()

	p.logger.Debug().Str("operation", key).Dur("interval", interval).Msg("poller: started")
	return true
}

// Cancel halts future ticks for the key. It is a no-op when the key is
// unknown or already terminated.
func (p *Poller) Cancel(key string) {
	p.mu.Lock()
	e, ok := p.entries[key]
	if ok {
		e.cancelled = true
		if e.timer != nil {
			e.timer.Stop()
		}
		delete(p.entries, key)
	}
	p.mu.Unlock()
	if ok {
		p.logger.Debug().Str("operation", key).Msg("poller: cancelled")
	}
}

// CancelAll halts every active poll; used on shutdown.
func (p *Poller) CancelAll() {
	p.mu.Lock()
	for key, e := range p.entries {
		e.cancelled = true
		if e.timer != nil {
			e.timer.Stop()
		}
		delete(p.entries, key)
	}
	p.mu.Unlock()
}

// Active reports whether a poll is currently registered for the key.
func (p *Poller) Active(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.entries[key]
	return ok
}

func (p *Poller) tick(ctx context.Context, key string, interval time.Duration, check CheckFunc, onDone DoneFunc, onError ErrorFunc) {
	op, err := check(ctx)

	p.mu.Lock()
	e, ok := p.entries[key]
	if !ok || e.cancelled {
		// Cancelled while the check was in flight; discard the outcome.
		p.mu.Unlock()
		return
	}

	if err != nil {
		e.failures++
		if e.failures < maxConsecutiveCheckFailures {
			e.timer = time.AfterFunc(interval, func() { p.tick(ctx, key, interval, check, onDone, onError) })
			p.mu.Unlock()
			p.logger.Warn().Err(err).Str("operation", key).Int("failures", e.failures).Msg("poller: check failed, will retry")
			return
		}
		delete(p.entries, key)
		p.mu.Unlock()
		onError(err)
		return
	}
	e.failures = 0

	if op == nil || !op.Done {
		e.timer = time.AfterFunc(interval, func() { p.tick(ctx, key, interval, check, onDone, onError) })
		p.mu.Unlock()
		return
	}

	delete(p.entries, key)
	p.mu.Unlock()

	switch {
	case op.Error != "":
		onError(&operationError{message: op.Error})
	case op.Result != nil:
		onDone(*op.Result)
	default:
		// Done without a usable payload; never leave the caller waiting.
		onError(&operationError{message: "operation finished without a result payload"})
	}
}

type operationError struct {
	message string
}

func (e *operationError) Error() string { return e.message }
