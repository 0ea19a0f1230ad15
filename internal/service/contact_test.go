package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/storefront/internal/domain"
	apperrors "github.com/utafrali/storefront/pkg/errors"
	"github.com/utafrali/storefront/pkg/logger"
	"github.com/utafrali/storefront/pkg/validator"
)

func validMessage() domain.ContactMessage {
	return domain.ContactMessage{
		Name:    "Ada",
		Email:   "ada@example.com",
		Message: "When does the next battle pass start?",
	}
}

func TestContactForm_Timeline(t *testing.T) {
	l, clock := newTestLoop(t)
	form := NewContactForm(l, DefaultContactConfig(), logger.Discard(), nil)
	var states []domain.ContactState
	onLoop(t, l, func() {
		form.OnChange(func(s domain.ContactState) { states = append(states, s) })
		require.NoError(t, form.Submit(context.Background(), validMessage()))
		assert.Equal(t, domain.ContactSending, form.State())
		assert.Equal(t, "Sending...", form.State().ButtonLabel())
		assert.True(t, form.State().ButtonDisabled())
		assert.NotNil(t, form.Draft())
	})

	clock.Advance(1499 * time.Millisecond)
	onLoop(t, l, func() { assert.Equal(t, domain.ContactSending, form.State()) })

	clock.Advance(time.Millisecond)
	onLoop(t, l, func() {
		assert.Equal(t, domain.ContactSent, form.State())
		assert.Equal(t, "Message Sent!", form.State().ButtonLabel())
		assert.Nil(t, form.Draft())
	})

	clock.Advance(3 * time.Second)
	onLoop(t, l, func() {
		assert.Equal(t, domain.ContactIdle, form.State())
		assert.False(t, form.State().ButtonDisabled())
	})
	assert.Equal(t, []domain.ContactState{domain.ContactSending, domain.ContactSent, domain.ContactIdle}, states)
}

func TestContactForm_RejectsWhileBusy(t *testing.T) {
	l, clock := newTestLoop(t)
	form := NewContactForm(l, DefaultContactConfig(), logger.Discard(), nil)
	onLoop(t, l, func() { require.NoError(t, form.Submit(context.Background(), validMessage())) })

	onLoop(t, l, func() {
		err := form.Submit(context.Background(), validMessage())
		require.Error(t, err)
		assert.True(t, errors.Is(err, apperrors.ErrConflict))
	})

	clock.Advance(2 * time.Second)
	onLoop(t, l, func() {
		assert.True(t, errors.Is(form.Submit(context.Background(), validMessage()), apperrors.ErrConflict))
	})

	clock.Advance(3 * time.Second)
	onLoop(t, l, func() { assert.NoError(t, form.Submit(context.Background(), validMessage())) })
}

func TestContactForm_ValidationFailureStaysIdle(t *testing.T) {
	l, _ := newTestLoop(t)
	form := NewContactForm(l, DefaultContactConfig(), logger.Discard(), nil)

	onLoop(t, l, func() {
		err := form.Submit(context.Background(), domain.ContactMessage{Name: "Ada", Email: "not-an-email"})
		require.Error(t, err)
		var ve *validator.ValidationError
		require.True(t, errors.As(err, &ve))
		assert.Contains(t, ve.Fields(), "email")
		assert.Contains(t, ve.Fields(), "message")
		assert.Equal(t, domain.ContactIdle, form.State())
	})
	assert.Zero(t, l.PendingTimers())
}
