package bidsession

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// sessionPoller owns the keep-alive loop: one goroutine, one timer, re-armed
// only after the previous request has settled so slow backends cannot stack
// concurrent polls. Transient failures keep the session alive; authoritative
// rejections and a zero countdown end it.
type sessionPoller struct {
	api     AuthAPI
	state   *sessionState
	logger  *zap.Logger
	metrics *Metrics
	clock   Clock
	cfg     PollConfig

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

func newSessionPoller(api AuthAPI, state *sessionState, logger *zap.Logger, metrics *Metrics, clock Clock, cfg PollConfig) *sessionPoller {
	return &sessionPoller{
		api:     api,
		state:   state,
		logger:  logger.Named("poller"),
		metrics: metrics,
		clock:   clock,
		cfg:     cfg,
	}
}

// start launches the poll loop. It is idempotent: a second start while the
// loop is running does nothing, so credential rotation never produces a
// second timer.
func (p *sessionPoller) start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	p.running = true
	stop := make(chan struct{})
	p.stopCh = stop
	p.wg.Add(1)
	go p.loop(stop)
}

// stop signals the loop to exit. It never blocks, so it is safe to call from
// the state-change handler even when that handler runs on the poll goroutine
// itself.
func (p *sessionPoller) stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return
	}
	p.running = false
	close(p.stopCh)
	p.stopCh = nil
}

// restart arms a fresh timer for a new session's credentials.
func (p *sessionPoller) restart() {
	p.stop()
	p.start()
}

// wait blocks until all loop goroutines have exited. Only the manager's Close
// path calls it.
func (p *sessionPoller) wait() {
	p.wg.Wait()
}

func (p *sessionPoller) loop(stop chan struct{}) {
	defer p.wg.Done()

	timer := time.NewTimer(p.cfg.Interval)
	defer timer.Stop()

	for {
		select {
		case <-stop:
			return
		case <-timer.C:
		}

		if !p.tick() {
			p.exitLocked(stop)
			return
		}
		timer.Reset(p.cfg.Interval)
	}
}

// exitLocked clears the running flag when this loop is still the current run.
// A loop retired by restart must not clobber its successor's bookkeeping.
func (p *sessionPoller) exitLocked(stop chan struct{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopCh == stop {
		p.running = false
		p.stopCh = nil
	}
}

// tick performs one keep-alive request and folds the outcome into the state
// machine. The returned bool reports whether the loop should keep running.
func (p *sessionPoller) tick() bool {
	gen := p.state.generation()
	creds := p.state.credentials()
	if !creds.Complete() {
		return false
	}

	ctx := context.Background()
	cancel := context.CancelFunc(func() {})
	if p.cfg.RequestTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, p.cfg.RequestTimeout)
	}
	started := p.clock.Now()
	payload, err := p.api.SessionRemaining(ctx, creds.SessionTokenID)
	cancel()
	p.metrics.Observe(MetricPollLatency, p.clock.Now().Sub(started))

	if err != nil {
		if isAuthRejection(err) {
			p.metrics.Inc(MetricPollAuthRejected)
			p.logger.Warn("keep-alive rejected, ending session", zap.Error(err))
			p.state.invalidateIfGeneration(context.Background(), gen, ReasonUnauthorized)
			return false
		}
		// Transient trouble or an unreadable body: the session survives and
		// the next tick tries again.
		p.metrics.Inc(MetricPollTransientFailure)
		p.logger.Warn("keep-alive failed, keeping session", zap.Error(err))
		return true
	}

	p.metrics.Inc(MetricKeepAlive)
	switch p.state.applyPollResult(context.Background(), gen, payload) {
	case pollStale, pollExpired:
		return false
	default:
		return true
	}
}
