// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package action

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bureau-foundation/actionclient/lib/clock"
	"github.com/bureau-foundation/actionclient/lib/future"
	"github.com/bureau-foundation/actionclient/lib/schema/goal"
)

// DefaultPollInterval is how often WaitForServer re-probes an
// unreachable executor.
const DefaultPollInterval = 250 * time.Millisecond

// DefaultRequestTimeout bounds ping, send_goal, and cancel_goal
// exchanges. get_result is a long poll and has no deadline.
const DefaultRequestTimeout = 10 * time.Second

// WaitForever makes WaitForServer wait until its context is done.
const WaitForever time.Duration = -1

// maxEarlyFrames bounds the feedback frames held for goals whose accept
// response has not been processed yet.
const maxEarlyFrames = 256

// ClientConfig configures a Client.
type ClientConfig struct {
	// Transport carries the action's exchanges. Required.
	Transport Transport

	// Name labels log lines (typically the action name).
	Name string

	// Logger receives lifecycle and diagnostic messages. Nil discards.
	Logger *slog.Logger

	// Clock drives server polling and handle timestamps. Nil means
	// clock.Real().
	Clock clock.Clock

	// PollInterval is the WaitForServer probe interval. Zero means
	// DefaultPollInterval.
	PollInterval time.Duration

	// RequestTimeout bounds each ping, send_goal, and cancel_goal
	// exchange. Zero means DefaultRequestTimeout.
	RequestTimeout time.Duration

	// PushResults means the executor pushes results on the stream, so
	// the client does not issue get_result after acceptance.
	PushResults bool
}

// Stats counts messages the client dropped or delivered.
type Stats struct {
	FeedbackDelivered  uint64
	StaleFeedback      uint64
	StaleStatus        uint64
	StaleResults       uint64
	ContractViolations uint64

	// ShedFeedback counts feedback that arrived ahead of its accept
	// and was dropped because the early-frame buffer was full.
	ShedFeedback uint64
}

// Client submits goals to one action endpoint and tracks them. Create
// it with NewClient and run its event loop with Run.
type Client struct {
	transport      Transport
	logger         *slog.Logger
	clock          clock.Clock
	pollInterval   time.Duration
	requestTimeout time.Duration
	pushResults    bool

	// lifetime bounds every transport call the client makes. It is
	// cancelled when Run returns.
	lifetime       context.Context
	cancelLifetime context.CancelFunc

	queueMu sync.Mutex
	queue   []func()
	closed  bool
	wake    chan struct{}

	running         atomic.Bool
	serverConfirmed atomic.Bool
	liveGoals       atomic.Int64

	subscriptionMu sync.Mutex
	subscription   Subscription

	feedbackDelivered  atomic.Uint64
	staleFeedback      atomic.Uint64
	staleStatus        atomic.Uint64
	staleResults       atomic.Uint64
	contractViolations atomic.Uint64
	shedFeedback       atomic.Uint64

	// Loop-owned.
	stopped bool
	early   []goal.StreamFrame
	pending map[string]*GoalHandle
	live    map[goal.ID]*GoalHandle
	cancels map[*future.Future[CancelResult]]*GoalHandle
}

// NewClient validates config and returns a client. Call Run before
// expecting any future to settle.
func NewClient(config ClientConfig) (*Client, error) {
	if config.Transport == nil {
		return nil, errors.New("action client requires a transport")
	}
	if config.PollInterval < 0 {
		return nil, fmt.Errorf("poll interval must be positive, got %v", config.PollInterval)
	}
	if config.RequestTimeout < 0 {
		return nil, fmt.Errorf("request timeout must be positive, got %v", config.RequestTimeout)
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if config.Name != "" {
		logger = logger.With("action_name", config.Name)
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	pollInterval := config.PollInterval
	if pollInterval == 0 {
		pollInterval = DefaultPollInterval
	}
	requestTimeout := config.RequestTimeout
	if requestTimeout == 0 {
		requestTimeout = DefaultRequestTimeout
	}

	lifetime, cancel := context.WithCancel(context.Background())
	return &Client{
		transport:      config.Transport,
		logger:         logger,
		clock:          clk,
		pollInterval:   pollInterval,
		requestTimeout: requestTimeout,
		pushResults:    config.PushResults,
		lifetime:       lifetime,
		cancelLifetime: cancel,
		wake:           make(chan struct{}, 1),
		pending:        make(map[string]*GoalHandle),
		live:           make(map[goal.ID]*GoalHandle),
		cancels:        make(map[*future.Future[CancelResult]]*GoalHandle),
	}, nil
}

// Run is the client's event loop. It processes queued work in order
// until ctx is done, then fails every outstanding future with
// ErrClientClosed, closes the stream, and returns nil. Run may be
// called once.
func (c *Client) Run(ctx context.Context) error {
	if c.running.Swap(true) {
		return errors.New("action client is already running")
	}

	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			return nil
		case <-c.wake:
			for _, event := range c.drain() {
				event()
			}
		}
	}
}

// isClosed reports whether Run has returned.
func (c *Client) isClosed() bool {
	c.queueMu.Lock()
	defer c.queueMu.Unlock()
	return c.closed
}

// post queues fn for the event loop. Returns false once the client has
// shut down; the caller then owns failing whatever fn would have
// settled.
func (c *Client) post(fn func()) bool {
	c.queueMu.Lock()
	if c.closed {
		c.queueMu.Unlock()
		return false
	}
	c.queue = append(c.queue, fn)
	c.queueMu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
	return true
}

func (c *Client) drain() []func() {
	c.queueMu.Lock()
	defer c.queueMu.Unlock()
	events := c.queue
	c.queue = nil
	return events
}

// shutdown runs on the loop after ctx is done.
func (c *Client) shutdown() {
	c.stopped = true
	c.cancelLifetime()
	c.serverConfirmed.Store(false)
	c.closeSubscription()
	c.failInFlight(ErrClientClosed)

	c.queueMu.Lock()
	c.closed = true
	remaining := c.queue
	c.queue = nil
	c.queueMu.Unlock()

	// Work queued before the close still has futures to settle; with
	// stopped set it fails them instead of starting exchanges.
	for _, event := range remaining {
		event()
	}
	c.logger.Debug("action client stopped")
}

// WaitForServer blocks until the executor answers a ping, the timeout
// elapses, or ctx is done. A zero timeout probes once; WaitForever
// waits for ctx. On success the stream subscription is opened (if it
// is not already) and submissions are allowed.
func (c *Client) WaitForServer(ctx context.Context, timeout time.Duration) bool {
	var deadline <-chan time.Time
	if timeout > 0 {
		deadline = c.clock.After(timeout)
	}

	for {
		if c.probe(ctx) && c.confirmServer() {
			return true
		}
		if timeout == 0 {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-c.lifetime.Done():
			return false
		case <-deadline:
			c.logger.Info("timed out waiting for action server", "timeout", timeout)
			return false
		case <-c.clock.After(c.pollInterval):
		}
	}
}

func (c *Client) probe(ctx context.Context) bool {
	if ctx.Err() != nil || c.lifetime.Err() != nil {
		return false
	}
	probeCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()
	if err := c.transport.Ping(probeCtx); err != nil {
		c.logger.Debug("action server not reachable", "error", err)
		return false
	}
	return true
}

// confirmServer opens the stream if needed and marks the server
// available.
func (c *Client) confirmServer() bool {
	c.subscriptionMu.Lock()
	defer c.subscriptionMu.Unlock()

	if c.subscription == nil {
		subscription, err := c.transport.Subscribe(c.lifetime, c.deliver)
		if err != nil {
			c.logger.Warn("subscribing to action stream failed", "error", err)
			return false
		}
		c.subscription = subscription
		go c.watchSubscription(subscription)
	}

	if !c.serverConfirmed.Swap(true) {
		c.logger.Info("action server available")
	}
	return true
}

// deliver is the transport's frame callback. Frames are queued so they
// are handled on the loop in arrival order.
func (c *Client) deliver(frame goal.StreamFrame) {
	c.post(func() { c.dispatchFrame(frame) })
}

// watchSubscription reports a stream that ends without the client
// closing it.
func (c *Client) watchSubscription(subscription Subscription) {
	select {
	case <-subscription.Done():
	case <-c.lifetime.Done():
		return
	}
	err := subscription.Err()
	if err == nil {
		err = errors.New("stream closed by executor")
	}
	c.post(func() { c.handleStreamLost(subscription, err) })
}

func (c *Client) closeSubscription() {
	c.subscriptionMu.Lock()
	subscription := c.subscription
	c.subscription = nil
	c.subscriptionMu.Unlock()

	if subscription != nil {
		if err := subscription.Close(); err != nil {
			c.logger.Debug("closing action stream", "error", err)
		}
	}
}

// handleStreamLost fails every in-flight goal and requires a new
// WaitForServer before further submissions.
func (c *Client) handleStreamLost(subscription Subscription, err error) {
	c.subscriptionMu.Lock()
	current := c.subscription == subscription
	if current {
		c.subscription = nil
	}
	c.subscriptionMu.Unlock()
	if !current {
		return
	}

	c.serverConfirmed.Store(false)
	c.logger.Error("action stream lost",
		"error", err,
		"pending_goals", len(c.pending),
		"live_goals", len(c.live),
	)
	c.failInFlight(&TransportError{Op: "subscribe", Err: err})
}

// failInFlight fails the submission and result futures of every
// pending and live goal, and every outstanding cancel request.
func (c *Client) failInFlight(err error) {
	c.early = nil
	for requestID, handle := range c.pending {
		delete(c.pending, requestID)
		c.fail(handle.submission, err, "submission")
		c.fail(handle.result, err, "result")
	}
	for goalID, handle := range c.live {
		c.untrack(goalID)
		c.fail(handle.result, err, "result")
	}
	for cancel := range c.cancels {
		delete(c.cancels, cancel)
		c.fail(cancel, err, "cancel")
	}
}

// LiveGoals returns the number of accepted goals still waiting for a
// result.
func (c *Client) LiveGoals() int {
	return int(c.liveGoals.Load())
}

// Stats returns a snapshot of the client's message counters.
func (c *Client) Stats() Stats {
	return Stats{
		FeedbackDelivered:  c.feedbackDelivered.Load(),
		StaleFeedback:      c.staleFeedback.Load(),
		StaleStatus:        c.staleStatus.Load(),
		StaleResults:       c.staleResults.Load(),
		ContractViolations: c.contractViolations.Load(),
		ShedFeedback:       c.shedFeedback.Load(),
	}
}

// resolve and fail settle a future from the loop. A settlement error
// means the engine tried to settle twice, which is a bug in the engine;
// it is logged and counted rather than propagated. Panics from the
// future's continuation are contained so the loop keeps running.
func resolve[T any](c *Client, f *future.Future[T], value T, what string) {
	c.guard(what, func() {
		if err := f.Resolve(value); err != nil {
			c.contractViolation(what, err)
		}
	})
}

func (c *Client) fail(f interface{ Fail(error) error }, err error, what string) {
	c.guard(what, func() {
		if settleErr := f.Fail(err); settleErr != nil {
			c.contractViolation(what, settleErr)
		}
	})
}

func (c *Client) contractViolation(what string, err error) {
	c.contractViolations.Add(1)
	c.logger.Error("action client contract violation", "future", what, "error", err)
}

func (c *Client) guard(what string, fn func()) {
	defer func() {
		if recovered := recover(); recovered != nil {
			c.logger.Error("callback panicked", "callback", what, "panic", recovered)
		}
	}()
	fn()
}
