package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/utafrali/storefront/internal/domain"
	apperrors "github.com/utafrali/storefront/pkg/errors"
	"github.com/utafrali/storefront/pkg/validator"
)

// ContactConfig holds the simulated submission timings.
type ContactConfig struct {
	SendDelay  time.Duration
	ResetDelay time.Duration
}

// DefaultContactConfig returns 1500ms of sending and 3s of confirmation.
func DefaultContactConfig() ContactConfig {
	return ContactConfig{
		SendDelay:  1500 * time.Millisecond,
		ResetDelay: 3 * time.Second,
	}
}

// ContactForm drives the submit button feedback of the contact page. Nothing
// is delivered anywhere; an accepted message is logged. It must only be used
// from the page loop.
type ContactForm struct {
	sched    Scheduler
	cfg      ContactConfig
	logger   *slog.Logger
	metrics  *Metrics
	state    domain.ContactState
	draft    *domain.ContactMessage
	onChange func(domain.ContactState)
}

// NewContactForm returns an idle form.
func NewContactForm(sched Scheduler, cfg ContactConfig, logger *slog.Logger, metrics *Metrics) *ContactForm {
	if metrics == nil {
		metrics = NopMetrics()
	}
	return &ContactForm{
		sched:   sched,
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		state:   domain.ContactIdle,
	}
}

// OnChange registers fn to run after every state transition.
func (f *ContactForm) OnChange(fn func(domain.ContactState)) {
	f.onChange = fn
}

// State is the current feedback state.
func (f *ContactForm) State() domain.ContactState { return f.state }

// Draft is the message still shown in the form, or nil once it was reset.
func (f *ContactForm) Draft() *domain.ContactMessage { return f.draft }

// Submit accepts msg when the form is idle and starts the feedback sequence.
func (f *ContactForm) Submit(ctx context.Context, msg domain.ContactMessage) error {
	if f.state != domain.ContactIdle {
		return apperrors.Conflict("a message is already being sent")
	}
	if err := validator.Validate(msg); err != nil {
		return err
	}

	f.logger.InfoContext(ctx, "contact message received",
		slog.String("name", msg.Name),
		slog.String("email", msg.Email),
		slog.Int("length", len(msg.Message)),
	)
	f.metrics.ContactMessages.Inc()

	f.draft = &msg
	f.transition(domain.ContactSending)
	f.sched.AfterFunc(f.cfg.SendDelay, f.sent)
	return nil
}

func (f *ContactForm) sent() {
	f.draft = nil
	f.transition(domain.ContactSent)
	f.sched.AfterFunc(f.cfg.ResetDelay, f.reset)
}

func (f *ContactForm) reset() {
	f.transition(domain.ContactIdle)
}

func (f *ContactForm) transition(s domain.ContactState) {
	f.state = s
	if f.onChange != nil {
		f.onChange(s)
	}
}
