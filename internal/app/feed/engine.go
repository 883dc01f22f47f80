package feed

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/aadi/tabletsync/internal/contracts"
)

type Mode string

const (
	ModeStream Mode = "STREAM"
	ModePoll   Mode = "POLL"
)

type Status string

const (
	StatusConnecting   Status = "CONNECTING"
	StatusLive         Status = "LIVE"
	StatusReconnecting Status = "RECONNECTING"
	StatusOffline      Status = "OFFLINE"
)

const (
	timerWatchdog = "watchdog"
	timerPoll     = "poll"
	timerProbe    = "probe"
	timerReopen   = "reopen"

	DefaultPollInterval        = 2 * time.Second
	DefaultStaleWindow         = 25 * time.Second
	DefaultStreamRetryInterval = 30 * time.Second
)

type Config struct {
	StreamURL    string
	PollURL      string
	PollInterval time.Duration
	StaleWindow  time.Duration
	// StreamRetryInterval is how often a stream reconnect is attempted while
	// the engine is polling.
	StreamRetryInterval time.Duration
	// RequestTimeout bounds each poll. It defaults to StaleWindow.
	RequestTimeout time.Duration
	// MaxEventSize is passed to the SSE reader.
	MaxEventSize int
	Backoff      func(failures int) time.Duration
	Client              *http.Client
	Logger              *slog.Logger
	Now                 func() time.Time
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.StaleWindow <= 0 {
		c.StaleWindow = DefaultStaleWindow
	}
	if c.StreamRetryInterval <= 0 {
		c.StreamRetryInterval = DefaultStreamRetryInterval
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = c.StaleWindow
	}
	if c.Backoff == nil {
		c.Backoff = DefaultBackoff
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Health is the connection state shown next to the board.
type Health struct {
	Mode          Mode             `json:"mode"`
	Status        Status           `json:"status"`
	Failures      int              `json:"failures"`
	Cursor        contracts.Cursor `json:"cursor"`
	LastMessageAt time.Time        `json:"lastMessageAt"`
	LastError     string           `json:"lastError,omitempty"`
}

type (
	streamOpened  struct{ gen uint64 }
	streamMessage struct {
		gen   uint64
		event contracts.Event
	}
	streamEnded struct {
		gen uint64
		err error
	}
	pollDone struct {
		gen  uint64
		resp contracts.ReadResponse
		err  error
	}
	timerFired struct {
		name  string
		token uint64
	}
)

// Engine keeps a Replica in sync with the tablet API. It prefers the push
// stream, falls back to polling when the stream fails, and probes the stream
// again while polling.
//
// All state changes happen on a single loop goroutine. Transport goroutines
// and timers only post messages to it, tagged with the attempt they belong
// to, so results from a cancelled attempt are discarded.
type Engine struct {
	cfg    Config
	stream StreamTransport
	poller PollTransport
	sched  *Scheduler
	inbox  chan any

	lifeMu  sync.Mutex
	started bool
	stopped bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu      sync.RWMutex
	replica *Replica
	health  Health

	changes chan struct{}

	// owned by the loop goroutine
	streamGen    uint64
	streamCancel context.CancelFunc
	pollGen      uint64
	pollCancel   context.CancelFunc
}

// New builds an engine using the HTTP stream and poll transports.
func New(cfg Config) *Engine {
	return NewWithTransports(cfg,
		SSEStream{URL: cfg.StreamURL, Client: cfg.Client, MaxEventSize: cfg.MaxEventSize},
		HTTPPoller{URL: cfg.PollURL, Client: cfg.Client},
	)
}

func NewWithTransports(cfg Config, stream StreamTransport, poller PollTransport) *Engine {
	e := &Engine{
		cfg:     cfg.withDefaults(),
		stream:  stream,
		poller:  poller,
		inbox:   make(chan any),
		replica: NewReplica(),
		health:  Health{Mode: ModeStream, Status: StatusConnecting},
		changes: make(chan struct{}, 1),
	}
	e.sched = NewScheduler(func(name string, token uint64) {
		e.post(timerFired{name: name, token: token})
	})
	return e
}

// Start runs the engine until Stop is called or ctx ends. Calling it again,
// or after Stop, does nothing.
func (e *Engine) Start(ctx context.Context) {
	e.lifeMu.Lock()
	defer e.lifeMu.Unlock()
	if e.started || e.stopped {
		return
	}
	e.started = true
	e.ctx, e.cancel = context.WithCancel(ctx)
	e.wg.Add(1)
	go e.loop()
}

// Stop cancels every timer, request and open stream and waits for them to
// finish. The replica is not modified after Stop returns.
func (e *Engine) Stop() {
	e.lifeMu.Lock()
	if e.stopped {
		e.lifeMu.Unlock()
		return
	}
	e.stopped = true
	cancel := e.cancel
	e.lifeMu.Unlock()

	e.sched.StopAll()
	if cancel != nil {
		cancel()
	}
	e.wg.Wait()
}

// Changes receives a value whenever the view or health may have changed.
// Notifications are coalesced.
func (e *Engine) Changes() <-chan struct{} { return e.changes }

func (e *Engine) View() Grouped {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.replica.Grouped()
}

func (e *Engine) Health() Health {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.health
}

func (e *Engine) Status() Status { return e.Health().Status }

func (e *Engine) Mode() Mode { return e.Health().Mode }

func (e *Engine) Cursor() contracts.Cursor { return e.Health().Cursor }

func (e *Engine) post(msg any) bool {
	select {
	case e.inbox <- msg:
		return true
	case <-e.ctx.Done():
		return false
	}
}

func (e *Engine) notify() {
	select {
	case e.changes <- struct{}{}:
	default:
	}
}

func (e *Engine) loop() {
	defer e.wg.Done()
	defer e.sched.StopAll()
	defer e.cancelTransports()

	e.openStream()
	e.armWatchdog()

	for {
		select {
		case <-e.ctx.Done():
			return
		case msg := <-e.inbox:
			if e.ctx.Err() != nil {
				return
			}
			e.handle(msg)
		}
	}
}

func (e *Engine) handle(msg any) {
	switch m := msg.(type) {
	case streamOpened:
		if m.gen == e.streamGen {
			e.streamAlive()
		}
	case streamMessage:
		if m.gen == e.streamGen {
			e.streamAlive()
			e.apply(m.event)
		}
	case streamEnded:
		if m.gen == e.streamGen {
			e.streamCancel = nil
			e.onStreamEnded(m.err)
		}
	case pollDone:
		if m.gen == e.pollGen {
			e.pollCancel = nil
			e.onPollDone(m.resp, m.err)
		}
	case timerFired:
		if e.sched.Claim(m.name, m.token) {
			e.onTimer(m.name)
		}
	}
}

func (e *Engine) mode() Mode {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.health.Mode
}

func (e *Engine) openStream() {
	if e.streamCancel != nil {
		e.streamCancel()
	}
	e.streamGen++
	gen := e.streamGen
	ctx, cancel := context.WithCancel(e.ctx)
	e.streamCancel = cancel

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer cancel()
		err := e.stream.Stream(ctx,
			func() { e.post(streamOpened{gen: gen}) },
			func(ev contracts.Event) { e.post(streamMessage{gen: gen, event: ev}) },
		)
		e.post(streamEnded{gen: gen, err: err})
	}()
}

func (e *Engine) startPoll() {
	if e.pollCancel != nil {
		e.pollCancel()
	}
	e.pollGen++
	gen := e.pollGen
	ctx, cancel := context.WithTimeout(e.ctx, e.cfg.RequestTimeout)
	e.pollCancel = cancel
	cursor := e.Cursor()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer cancel()
		resp, err := e.poller.Poll(ctx, cursor)
		e.post(pollDone{gen: gen, resp: resp, err: err})
	}()
}

func (e *Engine) cancelPoll() {
	if e.pollCancel != nil {
		e.pollCancel()
		e.pollCancel = nil
	}
	e.pollGen++
}

// closeStream drops the current stream attempt. Its end is ignored.
func (e *Engine) closeStream() {
	if e.streamCancel != nil {
		e.streamCancel()
		e.streamCancel = nil
	}
	e.streamGen++
}

func (e *Engine) cancelTransports() {
	e.closeStream()
	e.cancelPoll()
}

func (e *Engine) armWatchdog() {
	e.sched.After(timerWatchdog, watchdogPeriod(e.cfg.StaleWindow))
}

// streamAlive records liveness on the current stream. A stream that comes up
// while polling ends the fallback.
func (e *Engine) streamAlive() {
	if e.mode() == ModePoll {
		e.sched.Cancel(timerPoll)
		e.sched.Cancel(timerProbe)
		e.cancelPoll()
		e.setMode(ModeStream)
		e.armWatchdog()
		e.cfg.Logger.Info("stream restored, polling stopped")
	}
	e.markLive()
}

func (e *Engine) markLive() {
	e.mu.Lock()
	e.health.LastMessageAt = e.cfg.Now()
	e.health.Status = StatusLive
	e.health.Failures = 0
	e.health.LastError = ""
	e.mu.Unlock()
	e.notify()
}

func (e *Engine) setMode(m Mode) {
	e.mu.Lock()
	e.health.Mode = m
	e.mu.Unlock()
	e.notify()
}

func (e *Engine) apply(ev contracts.Event) {
	e.mu.Lock()
	changed := e.replica.Apply(ev)
	e.health.Cursor = e.replica.Cursor()
	e.mu.Unlock()
	if changed {
		e.notify()
	}
}

// fail counts a transport failure and returns the delay before the next attempt.
func (e *Engine) fail(op string, err error) time.Duration {
	if err == nil {
		err = ErrStreamClosed
	}
	e.mu.Lock()
	e.health.Failures++
	failures := e.health.Failures
	if failures >= offlineAfterFailures {
		e.health.Status = StatusOffline
	} else {
		e.health.Status = StatusReconnecting
	}
	e.health.LastError = err.Error()
	e.mu.Unlock()
	e.notify()

	delay := e.cfg.Backoff(failures)
	e.cfg.Logger.Warn("sync transport failed", "op", op, "failures", failures, "retry_in", delay, "error", err)
	return delay
}

func (e *Engine) onStreamEnded(err error) {
	if e.ctx.Err() != nil {
		return
	}
	if e.mode() == ModePoll {
		e.cfg.Logger.Debug("stream probe failed", "error", err)
		return
	}
	e.sched.Cancel(timerWatchdog)
	delay := e.fail("stream", err)
	e.setMode(ModePoll)
	e.sched.After(timerPoll, delay)
	e.sched.After(timerProbe, e.cfg.StreamRetryInterval)
}

func (e *Engine) onPollDone(resp contracts.ReadResponse, err error) {
	if e.ctx.Err() != nil || e.mode() != ModePoll {
		return
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		e.sched.After(timerPoll, e.fail("poll", err))
		return
	}

	e.mu.Lock()
	changed := e.replica.MergePoll(resp)
	e.health.Cursor = e.replica.Cursor()
	e.mu.Unlock()
	if changed {
		e.notify()
	}
	e.markLive()
	e.sched.After(timerPoll, e.cfg.PollInterval)
}

func (e *Engine) onTimer(name string) {
	switch name {
	case timerWatchdog:
		if e.mode() != ModeStream {
			return
		}
		last := e.Health().LastMessageAt
		if last.IsZero() || e.cfg.Now().Sub(last) > e.cfg.StaleWindow {
			e.closeStream()
			e.sched.After(timerReopen, e.fail("stream", ErrStale))
			return
		}
		e.armWatchdog()
	case timerReopen:
		if e.mode() == ModeStream {
			e.openStream()
			e.armWatchdog()
		}
	case timerPoll:
		if e.mode() == ModePoll {
			e.startPoll()
		}
	case timerProbe:
		if e.mode() == ModePoll {
			e.openStream()
			e.sched.After(timerProbe, e.cfg.StreamRetryInterval)
		}
	}
}
