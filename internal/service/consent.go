package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/utafrali/storefront/internal/domain"
	"github.com/utafrali/storefront/internal/loop"
	"github.com/utafrali/storefront/internal/repository"
	apperrors "github.com/utafrali/storefront/pkg/errors"
)

// Display element and class used by the consent popup.
const (
	ConsentElementID = "cookie-popup"
	ConsentShowClass = "show"
)

// Scheduler runs a callback after a delay on the page's loop.
type Scheduler interface {
	AfterFunc(d time.Duration, fn func()) *loop.Timer
	Now() time.Time
}

// ClassList is the part of the display surface the popup needs.
type ClassList interface {
	HasElement(id string) bool
	AddClass(id, class string) bool
	RemoveClass(id, class string) bool
}

// ConsentConfig holds the popup timings.
type ConsentConfig struct {
	ShowDelay     time.Duration
	RetryAttempts int
	RetryInterval time.Duration
}

// DefaultConsentConfig returns a 2s show delay with five retries 500ms apart.
func DefaultConsentConfig() ConsentConfig {
	return ConsentConfig{
		ShowDelay:     2 * time.Second,
		RetryAttempts: 5,
		RetryInterval: 500 * time.Millisecond,
	}
}

// ConsentPopup decides whether the cookie popup is shown and records the
// visitor's answer. Like CartStore it must only be used from the page loop.
type ConsentPopup struct {
	slots    repository.SlotStore
	surface  ClassList
	sched    Scheduler
	cfg      ConsentConfig
	logger   *slog.Logger
	metrics  *Metrics
	decision domain.Decision
	pending  *loop.Timer
	showAt   time.Time // due time of the pending show; zero while looking up
	retries  int
	shown    bool
}

// ConsentHandoff is the popup timeline carried from a replaced page to its
// reload, so a reload neither hides a visible popup nor restarts the delay.
type ConsentHandoff struct {
	Shown  bool
	ShowAt time.Time
}

// LoadConsent reads the stored decision. An unreadable slot counts as
// undecided.
func LoadConsent(ctx context.Context, slots repository.SlotStore, surface ClassList, sched Scheduler, cfg ConsentConfig, logger *slog.Logger, metrics *Metrics) *ConsentPopup {
	if metrics == nil {
		metrics = NopMetrics()
	}
	c := &ConsentPopup{
		slots:   slots,
		surface: surface,
		sched:   sched,
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
	}
	raw, err := slots.Get(ctx, repository.SlotConsent)
	switch {
	case err == nil:
		c.decision = domain.ParseDecision(raw)
	case !errors.Is(err, apperrors.ErrNotFound):
		logger.WarnContext(ctx, "consent slot unreadable, treating as undecided", slog.String("error", err.Error()))
	}
	return c
}

// Decision is the current consent state.
func (c *ConsentPopup) Decision() domain.Decision { return c.decision }

// Visible reports whether the popup currently carries the show class.
func (c *ConsentPopup) Visible() bool {
	return c.shown
}

// Check runs on page readiness. When the visitor has not decided it looks
// for the popup element, retrying a bounded number of times, and schedules
// the delayed show once the element is present.
func (c *ConsentPopup) Check() {
	if c.decision.Decided() || c.pending != nil {
		return
	}
	c.retries = 0
	c.lookup()
}

func (c *ConsentPopup) lookup() {
	if c.decision.Decided() {
		c.pending = nil
		return
	}
	if c.surface.HasElement(ConsentElementID) {
		c.scheduleShow(c.sched.Now().Add(c.cfg.ShowDelay))
		return
	}
	if c.retries >= c.cfg.RetryAttempts {
		c.pending = nil
		c.logger.Debug("consent popup element not found, giving up", slog.Int("retries", c.retries))
		return
	}
	c.retries++
	c.pending = c.sched.AfterFunc(c.cfg.RetryInterval, c.lookup)
}

func (c *ConsentPopup) scheduleShow(at time.Time) {
	c.cancelPending()
	c.showAt = at
	c.pending = c.sched.AfterFunc(at.Sub(c.sched.Now()), c.show)
}

func (c *ConsentPopup) show() {
	c.pending = nil
	c.showAt = time.Time{}
	if c.decision.Decided() {
		return
	}
	c.shown = c.surface.AddClass(ConsentElementID, ConsentShowClass)
}

func (c *ConsentPopup) cancelPending() {
	if c.pending != nil {
		c.pending.Stop()
		c.pending = nil
	}
	c.showAt = time.Time{}
}

// Handoff captures the popup timeline for the page that replaces this one.
func (c *ConsentPopup) Handoff() ConsentHandoff {
	return ConsentHandoff{Shown: c.shown, ShowAt: c.showAt}
}

// Resume continues the timeline of a replaced page. A popup that was visible
// shows at once; a pending show keeps its original due time. It is a no-op
// once a decision is on record or when this page has no popup element.
func (c *ConsentPopup) Resume(h ConsentHandoff) {
	if c.decision.Decided() || !c.surface.HasElement(ConsentElementID) {
		return
	}
	switch {
	case h.Shown:
		c.cancelPending()
		c.show()
	case !h.ShowAt.IsZero():
		if !h.ShowAt.After(c.sched.Now()) {
			c.cancelPending()
			c.show()
			return
		}
		c.scheduleShow(h.ShowAt)
	}
}

// Pending reports whether a lookup retry or delayed show is scheduled.
func (c *ConsentPopup) Pending() bool {
	return c.pending != nil
}

// Accept records acceptance and hides the popup.
func (c *ConsentPopup) Accept(ctx context.Context) error {
	return c.decide(ctx, domain.Accepted)
}

// Decline records refusal and hides the popup.
func (c *ConsentPopup) Decline(ctx context.Context) error {
	return c.decide(ctx, domain.Declined)
}

func (c *ConsentPopup) decide(ctx context.Context, d domain.Decision) error {
	value, _ := d.SlotValue()
	if err := c.slots.Set(ctx, repository.SlotConsent, value); err != nil {
		return apperrors.Unavailable("consent storage unavailable", err)
	}
	c.decision = d
	c.cancelPending()
	c.surface.RemoveClass(ConsentElementID, ConsentShowClass)
	c.shown = false
	c.metrics.ConsentDecisions.WithLabelValues(d.String()).Inc()
	return nil
}

// Reset forgets the stored decision and runs the check again, so the popup
// shows after the usual delay.
func (c *ConsentPopup) Reset(ctx context.Context) error {
	if err := c.slots.Delete(ctx, repository.SlotConsent); err != nil {
		return apperrors.Unavailable("consent storage unavailable", err)
	}
	c.decision = domain.Undecided
	c.cancelPending()
	c.surface.RemoveClass(ConsentElementID, ConsentShowClass)
	c.shown = false
	c.metrics.ConsentDecisions.WithLabelValues("reset").Inc()
	c.Check()
	return nil
}
