package services

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-dial-verify/internal/observability"
)

const (
	defaultPurgeAttempts = 3
	defaultPurgeBackoff  = 5 * time.Second
)

// CallLogPurger deletes provider call-log entries in the background. The
// inbound call is still ringing when the webhook fires, so each deletion
// waits Delay before the first attempt and retries with linear backoff.
type CallLogPurger struct {
	Provider Provider
	Delay    time.Duration
	Attempts int
	Backoff  time.Duration

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewCallLogPurger returns a purger that waits delay before deleting a call.
func NewCallLogPurger(p Provider, delay time.Duration) *CallLogPurger {
	ctx, cancel := context.WithCancel(context.Background())
	return &CallLogPurger{
		Provider: p,
		Delay:    delay,
		Attempts: defaultPurgeAttempts,
		Backoff:  defaultPurgeBackoff,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Schedule queues deletion of callID. It never blocks. Calls after Shutdown
// are dropped.
func (p *CallLogPurger) Schedule(callID string) {
	callID = strings.TrimSpace(callID)
	if p == nil || p.Provider == nil || callID == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		log.Warn().Str("call_id", callID).Msg("call log purge dropped: purger closed")
		observability.CallLogPurges.WithLabelValues("dropped").Inc()
		return
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.purge(callID)
	}()
}

func (p *CallLogPurger) purge(callID string) {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	wait := p.Delay
	for attempt := 1; ; attempt++ {
		if !sleepCtx(p.ctx, wait) {
			log.Warn().Str("call_id", callID).Msg("call log purge abandoned on shutdown")
			observability.CallLogPurges.WithLabelValues("abandoned").Inc()
			return
		}
		err := p.Provider.DeleteCallLog(p.ctx, callID)
		if err == nil {
			observability.CallLogPurges.WithLabelValues("deleted").Inc()
			return
		}
		if attempt >= attempts {
			log.Error().Err(err).Str("call_id", callID).Int("attempts", attempt).Msg("call log purge failed")
			observability.CallLogPurges.WithLabelValues("failed").Inc()
			return
		}
		wait = p.Backoff * time.Duration(attempt)
	}
}

// Wait blocks until every scheduled deletion has finished.
func (p *CallLogPurger) Wait() { p.wg.Wait() }

// Shutdown stops accepting work and waits for pending deletions until ctx is
// done, after which the remaining ones are abandoned.
func (p *CallLogPurger) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		<-done
		return ctx.Err()
	}
}

// sleepCtx waits d or until ctx is done. It reports whether the full wait
// elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
