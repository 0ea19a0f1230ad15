package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/storefront/internal/domain"
	"github.com/utafrali/storefront/internal/loop"
	"github.com/utafrali/storefront/internal/repository"
	"github.com/utafrali/storefront/internal/repository/memory"
	apperrors "github.com/utafrali/storefront/pkg/errors"
	"github.com/utafrali/storefront/pkg/logger"
)

// --- Fake Surface ---

type fakeClassList struct {
	present bool
	classes map[string]bool
	lookups int
}

func newFakeClassList(present bool) *fakeClassList {
	return &fakeClassList{present: present, classes: map[string]bool{}}
}

func (f *fakeClassList) HasElement(id string) bool {
	f.lookups++
	return f.present && id == ConsentElementID
}

func (f *fakeClassList) AddClass(id, class string) bool {
	if !f.HasElement(id) {
		return false
	}
	f.classes[class] = true
	return true
}

func (f *fakeClassList) RemoveClass(id, class string) bool {
	if !f.HasElement(id) {
		return false
	}
	delete(f.classes, class)
	return true
}

// --- Test Helpers ---

func newTestLoop(t *testing.T) (*loop.Loop, *loop.ManualClock) {
	t.Helper()
	clock := loop.NewManualClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	l := loop.New(clock, logger.Discard())
	t.Cleanup(l.Close)
	return l, clock
}

func onLoop(t *testing.T, l *loop.Loop, fn func()) {
	t.Helper()
	require.NoError(t, l.Do(context.Background(), fn))
}

func newTestPopup(t *testing.T, slots repository.SlotStore, surface ClassList) (*ConsentPopup, *loop.Loop, *loop.ManualClock) {
	t.Helper()
	l, clock := newTestLoop(t)
	var popup *ConsentPopup
	onLoop(t, l, func() {
		popup = LoadConsent(context.Background(), slots, surface, l, DefaultConsentConfig(), logger.Discard(), nil)
	})
	return popup, l, clock
}

// ============================================================================
// Tests
// ============================================================================

func TestConsent_ShowsAfterDelayWhenUndecided(t *testing.T) {
	surface := newFakeClassList(true)
	popup, l, clock := newTestPopup(t, memory.NewSlotStore(), surface)

	onLoop(t, l, popup.Check)
	clock.Advance(1999 * time.Millisecond)
	assert.False(t, surface.classes[ConsentShowClass])

	clock.Advance(time.Millisecond)
	assert.True(t, surface.classes[ConsentShowClass])
	onLoop(t, l, func() { assert.True(t, popup.Visible()) })
}

func TestConsent_NeverShowsWhenDecided(t *testing.T) {
	for _, stored := range []string{"true", "false"} {
		slots := memory.NewSlotStore()
		require.NoError(t, slots.Set(context.Background(), repository.SlotConsent, stored))
		surface := newFakeClassList(true)
		popup, l, clock := newTestPopup(t, slots, surface)

		onLoop(t, l, popup.Check)
		clock.Advance(10 * time.Second)

		assert.False(t, surface.classes[ConsentShowClass], "stored %q", stored)
		assert.Zero(t, surface.lookups)
	}
}

func TestConsent_UnrecognizedValueSuppressesPopup(t *testing.T) {
	for _, stored := range []string{"yes", "maybe", ""} {
		slots := memory.NewSlotStore()
		require.NoError(t, slots.Set(context.Background(), repository.SlotConsent, stored))
		surface := newFakeClassList(true)
		popup, l, clock := newTestPopup(t, slots, surface)

		onLoop(t, l, popup.Check)
		clock.Advance(10 * time.Second)

		assert.False(t, surface.classes[ConsentShowClass], "stored %q", stored)
		onLoop(t, l, func() {
			assert.Equal(t, domain.Recorded, popup.Decision())
			assert.False(t, popup.Pending())
		})
	}
}

func TestConsent_RecordedCanBeOverwritten(t *testing.T) {
	ctx := context.Background()
	slots := memory.NewSlotStore()
	require.NoError(t, slots.Set(ctx, repository.SlotConsent, "yes"))
	popup, l, _ := newTestPopup(t, slots, newFakeClassList(true))

	onLoop(t, l, func() { require.NoError(t, popup.Decline(ctx)) })

	raw, err := slots.Get(ctx, repository.SlotConsent)
	require.NoError(t, err)
	assert.Equal(t, "false", raw)
}

func TestConsent_UnreadableSlotIsUndecided(t *testing.T) {
	ctx := context.Background()
	slots := new(mockSlotStore)
	slots.On("Get", ctx, repository.SlotConsent).Return("", errors.New("timeout"))
	popup, l, _ := newTestPopup(t, slots, newFakeClassList(true))

	onLoop(t, l, func() { assert.Equal(t, domain.Undecided, popup.Decision()) })
}

func TestConsent_AcceptCancelsPendingShow(t *testing.T) {
	slots := memory.NewSlotStore()
	surface := newFakeClassList(true)
	popup, l, clock := newTestPopup(t, slots, surface)

	onLoop(t, l, popup.Check)
	clock.Advance(time.Second)
	onLoop(t, l, func() { require.NoError(t, popup.Accept(context.Background())) })
	clock.Advance(5 * time.Second)

	assert.False(t, surface.classes[ConsentShowClass])
	raw, err := slots.Get(context.Background(), repository.SlotConsent)
	require.NoError(t, err)
	assert.Equal(t, "true", raw)
	onLoop(t, l, func() { assert.False(t, popup.Pending()) })
}

func TestConsent_DeclineHidesShownPopup(t *testing.T) {
	slots := memory.NewSlotStore()
	surface := newFakeClassList(true)
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	l, clock := newTestLoop(t)
	var popup *ConsentPopup
	onLoop(t, l, func() {
		popup = LoadConsent(context.Background(), slots, surface, l, DefaultConsentConfig(), logger.Discard(), m)
		popup.Check()
	})
	clock.Advance(2 * time.Second)
	require.True(t, surface.classes[ConsentShowClass])

	onLoop(t, l, func() { require.NoError(t, popup.Decline(context.Background())) })

	assert.False(t, surface.classes[ConsentShowClass])
	raw, err := slots.Get(context.Background(), repository.SlotConsent)
	require.NoError(t, err)
	assert.Equal(t, "false", raw)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConsentDecisions.WithLabelValues("declined")))

	onLoop(t, l, popup.Check)
	clock.Advance(5 * time.Second)
	assert.False(t, surface.classes[ConsentShowClass])
}

func TestConsent_RetriesThenGivesUp(t *testing.T) {
	surface := newFakeClassList(false)
	popup, l, clock := newTestPopup(t, memory.NewSlotStore(), surface)

	onLoop(t, l, popup.Check)
	clock.Advance(10 * time.Second)

	// One initial lookup plus five retries.
	assert.Equal(t, 6, surface.lookups)
	assert.False(t, surface.classes[ConsentShowClass])
	assert.Zero(t, l.PendingTimers())
}

func TestConsent_ElementAppearsDuringRetry(t *testing.T) {
	surface := newFakeClassList(false)
	popup, l, clock := newTestPopup(t, memory.NewSlotStore(), surface)

	onLoop(t, l, popup.Check)
	clock.Advance(1000 * time.Millisecond)
	onLoop(t, l, func() { surface.present = true })
	clock.Advance(500 * time.Millisecond)
	assert.False(t, surface.classes[ConsentShowClass])

	clock.Advance(2 * time.Second)
	assert.True(t, surface.classes[ConsentShowClass])
}

func TestConsent_WriteFailureKeepsUndecided(t *testing.T) {
	ctx := context.Background()
	slots := new(mockSlotStore)
	slots.On("Get", ctx, repository.SlotConsent).Return("", apperrors.ErrNotFound)
	slots.On("Set", mock.Anything, repository.SlotConsent, "true").Return(errors.New("down"))
	popup, l, _ := newTestPopup(t, slots, newFakeClassList(true))

	onLoop(t, l, func() {
		err := popup.Accept(ctx)
		require.Error(t, err)
		assert.True(t, errors.Is(err, apperrors.ErrServiceUnavail))
		assert.Equal(t, domain.Undecided, popup.Decision())
	})
}

func TestConsent_HandoffCarriesVisiblePopup(t *testing.T) {
	surface := newFakeClassList(true)
	popup, l, clock := newTestPopup(t, memory.NewSlotStore(), surface)
	onLoop(t, l, popup.Check)
	clock.Advance(3 * time.Second)

	var h ConsentHandoff
	onLoop(t, l, func() { h = popup.Handoff() })
	require.True(t, h.Shown)

	next := newFakeClassList(true)
	reloaded, l2, _ := newTestPopup(t, memory.NewSlotStore(), next)
	onLoop(t, l2, func() {
		reloaded.Check()
		reloaded.Resume(h)
		assert.True(t, reloaded.Visible())
		assert.False(t, reloaded.Pending())
	})
	assert.True(t, next.classes[ConsentShowClass])
}

func TestConsent_ResumeKeepsDueTime(t *testing.T) {
	popup, l, clock := newTestPopup(t, memory.NewSlotStore(), newFakeClassList(true))
	onLoop(t, l, popup.Check)
	clock.Advance(1200 * time.Millisecond)

	var h ConsentHandoff
	onLoop(t, l, func() { h = popup.Handoff() })
	require.False(t, h.Shown)

	// The replacement page shares the wall clock of the one it replaces.
	next := newFakeClassList(true)
	var reloaded *ConsentPopup
	onLoop(t, l, func() {
		reloaded = LoadConsent(context.Background(), memory.NewSlotStore(), next, l, DefaultConsentConfig(), logger.Discard(), nil)
		reloaded.Check()
		reloaded.Resume(h)
	})

	clock.Advance(799 * time.Millisecond)
	assert.False(t, next.classes[ConsentShowClass])
	clock.Advance(time.Millisecond)
	assert.True(t, next.classes[ConsentShowClass])
}

func TestConsent_ResumeIgnoredOnceDecided(t *testing.T) {
	slots := memory.NewSlotStore()
	require.NoError(t, slots.Set(context.Background(), repository.SlotConsent, "true"))
	surface := newFakeClassList(true)
	popup, l, clock := newTestPopup(t, slots, surface)

	onLoop(t, l, func() { popup.Resume(ConsentHandoff{Shown: true}) })
	clock.Advance(5 * time.Second)

	assert.False(t, surface.classes[ConsentShowClass])
}

func TestConsent_ResetForgetsDecision(t *testing.T) {
	ctx := context.Background()
	slots := memory.NewSlotStore()
	surface := newFakeClassList(true)
	m := NewMetrics(prometheus.NewRegistry())
	l, clock := newTestLoop(t)
	var popup *ConsentPopup
	onLoop(t, l, func() {
		popup = LoadConsent(ctx, slots, surface, l, DefaultConsentConfig(), logger.Discard(), m)
		require.NoError(t, popup.Accept(ctx))
	})

	onLoop(t, l, func() {
		require.NoError(t, popup.Reset(ctx))
		assert.Equal(t, domain.Undecided, popup.Decision())
		assert.True(t, popup.Pending())
	})
	_, err := slots.Get(ctx, repository.SlotConsent)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	clock.Advance(2 * time.Second)
	assert.True(t, surface.classes[ConsentShowClass])
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConsentDecisions.WithLabelValues("reset")))
}

func TestConsent_ResetStorageFailure(t *testing.T) {
	ctx := context.Background()
	slots := new(mockSlotStore)
	slots.On("Get", ctx, repository.SlotConsent).Return("true", nil)
	slots.On("Delete", ctx, repository.SlotConsent).Return(errors.New("down"))
	popup, l, _ := newTestPopup(t, slots, newFakeClassList(true))

	onLoop(t, l, func() {
		err := popup.Reset(ctx)
		assert.ErrorIs(t, err, apperrors.ErrServiceUnavail)
		assert.Equal(t, domain.Accepted, popup.Decision())
	})
	slots.AssertExpectations(t)
}
