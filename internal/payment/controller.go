// Package payment drives the payment confirmation flow: it opens an external
// confirmation surface, watches its liveness against a hard timeout, and
// classifies provider completion signals into a small state machine.
package payment

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dinehub/ordersync/errs"
	"github.com/dinehub/ordersync/internal/bus/eventbus"
	"github.com/dinehub/ordersync/internal/dining"
	"github.com/dinehub/ordersync/internal/observability"
	"github.com/dinehub/ordersync/internal/payment/track"
)

// State is the payment session state machine.
type State string

const (
	StateIdle      State = "idle"
	StateVerifying State = "verifying"
	StateSucceeded State = "succeeded"
	// StateFailed means the surface closed or timed out with no completion
	// signal at all.
	StateFailed State = "failed"
	// StateFailedProcessing means a provider explicitly reported non-success.
	StateFailedProcessing State = "failed_processing"
)

// Surface is the external confirmation surface (popup window, webview, child
// process) the controller monitors.
type Surface interface {
	Closed() bool
	Close()
}

// Opener creates confirmation surfaces. Open failing (popup blocked) triggers
// the one-shot Redirect fallback.
type Opener interface {
	Open(link string) (Surface, error)
	Redirect(link string) error
}

// StatusFetcher resolves square-style signals that need a follow-up fetch.
type StatusFetcher interface {
	FetchStatus(ctx context.Context, orderID, tenantID string) (track.StatusResponse, error)
}

// Session is the handle for one payment attempt.
type Session struct {
	ID          string
	PaymentLink string
	Provider    Provider
	StartedAt   time.Time
	ResolvedAt  time.Time
}

// Outcome is published on the bus when a session reaches a terminal state.
type Outcome struct {
	SessionID string
	Provider  Provider
	State     State
	Reason    string
}

// Config tunes the session watch loop. Zero fields take defaults.
type Config struct {
	// LivenessInterval spaces surface-closed checks.
	LivenessInterval time.Duration
	// SessionTimeout bounds the whole confirmation wait.
	SessionTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.LivenessInterval <= 0 {
		c.LivenessInterval = 500 * time.Millisecond
	}
	if c.SessionTimeout <= 0 {
		c.SessionTimeout = 30 * time.Second
	}
	return c
}

// Controller runs at most one payment session at a time.
type Controller struct {
	cfg      Config
	opener   Opener
	fetcher  StatusFetcher
	bus      *eventbus.Bus
	notifier dining.Notifier
	tenant   string
	clock    func() time.Time

	mu          sync.Mutex
	state       State
	inProgress  bool
	session     *Session
	surface     Surface
	cancelWatch context.CancelFunc
	lastLink    string
}

// NewController constructs a payment session controller for one tenant.
func NewController(cfg Config, opener Opener, fetcher StatusFetcher, bus *eventbus.Bus, notifier dining.Notifier, tenant string) *Controller {
	return &Controller{
		cfg:      cfg.withDefaults(),
		opener:   opener,
		fetcher:  fetcher,
		bus:      bus,
		notifier: notifier,
		tenant:   tenant,
		clock:    time.Now,
		state:    StateIdle,
	}
}

// State returns the current session state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// StartSession begins a payment attempt for the given link. If a session is
// already active the existing handle is returned and nothing else happens.
// The active-session guard is checked and set under one lock acquisition so
// two rapid calls can never both pass it.
func (c *Controller) StartSession(ctx context.Context, paymentLink string) (*Session, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if strings.TrimSpace(paymentLink) == "" {
		return nil, errs.New("payment/start", errs.CodeInvalid, errs.WithMessage("payment link required"))
	}

	c.mu.Lock()
	if c.inProgress {
		existing := c.session
		c.mu.Unlock()
		return existing, nil
	}
	c.inProgress = true
	c.state = StateVerifying
	session := &Session{
		ID:          uuid.NewString(),
		PaymentLink: paymentLink,
		StartedAt:   c.clock(),
	}
	c.session = session
	c.lastLink = paymentLink
	watchCtx, cancel := context.WithCancel(context.Background())
	c.cancelWatch = cancel
	c.mu.Unlock()

	surface, err := c.opener.Open(paymentLink)
	if err != nil {
		blocked := errs.New("payment/start", errs.CodePopupBlocked,
			errs.WithMessage("confirmation surface blocked, falling back to redirect"),
			errs.WithTenant(c.tenant), errs.WithCause(err))
		observability.Log().Info("surface open failed", observability.F("error", blocked))
		if redirectErr := c.opener.Redirect(paymentLink); redirectErr != nil {
			c.resolve(session, StateFailed, "confirmation surface unavailable")
			return session, blocked
		}
		surface = nil
	}

	c.mu.Lock()
	if c.session != session {
		// Reset raced the open; discard the stale surface.
		c.mu.Unlock()
		if surface != nil {
			surface.Close()
		}
		return session, nil
	}
	c.surface = surface
	c.mu.Unlock()

	go c.watch(watchCtx, session, surface)
	return session, nil
}

// watch races surface liveness against the session timeout. Whichever fires
// first, absent a completion signal, resolves the session to Failed.
func (c *Controller) watch(ctx context.Context, session *Session, surface Surface) {
	ticker := time.NewTicker(c.cfg.LivenessInterval)
	defer ticker.Stop()
	timer := time.NewTimer(c.cfg.SessionTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if surface != nil && surface.Closed() {
				c.resolve(session, StateFailed, "confirmation surface closed without a completion signal")
				return
			}
		case <-timer.C:
			c.resolve(session, StateFailed, "confirmation timed out")
			return
		}
	}
}

// HandleSignal resolves the active session from one raw completion-signal
// message. The liveness/timeout race is cancelled as soon as the signal
// decodes, before any follow-up fetch runs.
func (c *Controller) HandleSignal(ctx context.Context, raw []byte) error {
	signal, err := DecodeSignal(raw)
	if err != nil {
		return err
	}

	c.mu.Lock()
	session := c.session
	if session == nil || c.state != StateVerifying {
		c.mu.Unlock()
		return errs.New("payment/signal", errs.CodeInvalid, errs.WithMessage("no session awaiting a signal"))
	}
	session.Provider = signal.Provider
	if c.cancelWatch != nil {
		c.cancelWatch()
		c.cancelWatch = nil
	}
	started := session.StartedAt
	c.mu.Unlock()

	switch signal.Provider {
	case ProviderIPOS:
		if signal.IPOS.ResponseCode == 200 {
			c.resolve(session, StateSucceeded, "provider confirmed payment")
		} else {
			c.resolve(session, StateFailedProcessing, signal.IPOS.ResponseMessage)
		}
	case ProviderClover:
		if strings.EqualFold(signal.Clover.PaymentStatus, "success") {
			c.resolve(session, StateSucceeded, "provider confirmed payment")
		} else {
			c.resolve(session, StateFailedProcessing, "provider reported "+signal.Clover.PaymentStatus)
		}
	case ProviderSquare:
		c.resolveSquare(ctx, session, signal.Square, started)
	case ProviderStatusCheck:
		c.resolve(session, StateSucceeded, "transaction pre-resolved")
	}
	return nil
}

// resolveSquare performs the follow-up status fetch, bounded by whatever
// remains of the session window so a stalled fetch cannot hold the session
// open past its timeout.
func (c *Controller) resolveSquare(ctx context.Context, session *Session, payload *SquarePayload, started time.Time) {
	remaining := c.cfg.SessionTimeout - c.clock().Sub(started)
	if remaining <= 0 {
		c.resolve(session, StateFailed, "session window elapsed before status fetch")
		return
	}
	fetchCtx, cancel := context.WithTimeout(ctx, remaining)
	defer cancel()

	orderID := payload.OrderID
	if orderID == "" {
		orderID = payload.TransactionID
	}
	status, err := c.fetcher.FetchStatus(fetchCtx, orderID, c.tenant)
	if err != nil {
		observability.Log().Error("payment status fetch failed", observability.F("order_id", orderID), observability.F("error", err))
		c.resolve(session, StateFailed, "payment status could not be verified")
		return
	}
	if status.Status {
		c.resolve(session, StateSucceeded, "tracking endpoint confirmed payment")
		return
	}
	c.resolve(session, StateFailedProcessing, "tracking endpoint reported unpaid")
}

// resolve moves the session to a terminal state exactly once.
func (c *Controller) resolve(session *Session, state State, reason string) {
	c.mu.Lock()
	if c.session != session || c.state != StateVerifying {
		c.mu.Unlock()
		return
	}
	c.state = state
	session.ResolvedAt = c.clock()
	if c.cancelWatch != nil {
		c.cancelWatch()
		c.cancelWatch = nil
	}
	surface := c.surface
	c.surface = nil
	c.mu.Unlock()

	if surface != nil {
		surface.Close()
	}

	observability.Telemetry().IncCounter(observability.MetricPaymentSessions, 1, map[string]string{"state": string(state)})
	if c.notifier != nil {
		if state == StateSucceeded {
			c.notifier.Success("Payment confirmed")
		} else {
			c.notifier.Failure("Payment was not completed")
		}
	}
	c.publish(Outcome{SessionID: session.ID, Provider: session.Provider, State: state, Reason: reason})
}

// HandleSuccess acknowledges a succeeded session: the controller returns to
// Idle, the guard clears, and the caller-supplied callback runs.
func (c *Controller) HandleSuccess(onClose func()) error {
	c.mu.Lock()
	if c.state != StateSucceeded {
		state := c.state
		c.mu.Unlock()
		return errs.New("payment/success", errs.CodeInvalid,
			errs.WithMessage("session not in succeeded state: "+string(state)))
	}
	c.toIdleLocked()
	c.mu.Unlock()

	if onClose != nil {
		onClose()
	}
	return nil
}

// Retry clears a failed session and re-runs either the original start or the
// caller-supplied alternative action.
func (c *Controller) Retry(ctx context.Context, alt func(ctx context.Context) error) error {
	c.mu.Lock()
	if c.state != StateFailed && c.state != StateFailedProcessing {
		state := c.state
		c.mu.Unlock()
		return errs.New("payment/retry", errs.CodeInvalid,
			errs.WithMessage("session not in a failed state: "+string(state)))
	}
	link := c.lastLink
	c.toIdleLocked()
	c.mu.Unlock()

	if alt != nil {
		return alt(ctx)
	}
	_, err := c.StartSession(ctx, link)
	return err
}

// Reset returns to Idle from any state without touching the surface.
func (c *Controller) Reset() {
	c.mu.Lock()
	c.toIdleLocked()
	c.mu.Unlock()
}

// ResetAll force-closes any lingering surface and returns to Idle from any
// state; used for cleanup on teardown.
func (c *Controller) ResetAll() {
	c.mu.Lock()
	surface := c.surface
	c.surface = nil
	c.toIdleLocked()
	c.mu.Unlock()

	if surface != nil {
		surface.Close()
	}
}

// toIdleLocked clears session state. Caller holds c.mu.
func (c *Controller) toIdleLocked() {
	c.state = StateIdle
	c.inProgress = false
	c.session = nil
	if c.cancelWatch != nil {
		c.cancelWatch()
		c.cancelWatch = nil
	}
}

func (c *Controller) publish(outcome Outcome) {
	if c.bus == nil {
		return
	}
	evt := eventbus.Event{Kind: eventbus.KindPaymentOutcome, Payload: outcome}
	if err := c.bus.Dispatch(context.Background(), evt); err != nil {
		observability.Log().Error("payment outcome dispatch failed", observability.F("error", err))
	}
}
