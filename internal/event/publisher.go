package event

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/utafrali/storefront/internal/domain"
	"github.com/utafrali/storefront/internal/service"
	"github.com/utafrali/storefront/pkg/breaker"
	pkgkafka "github.com/utafrali/storefront/pkg/kafka"
	"github.com/utafrali/storefront/pkg/logger"
	"github.com/utafrali/storefront/pkg/tracing"
)

var tracer = tracing.Tracer("github.com/utafrali/storefront/internal/event")

// Kafka topics for cart activity.
const (
	TopicCartUpdated = "storefront.cart.updated"
	TopicCartCleared = "storefront.cart.cleared"
)

// Event types.
const (
	TypeCartUpdated = "cart.updated"
	TypeCartCleared = "cart.cleared"
)

// AggregateTypeCart is the aggregate type of every cart event.
const AggregateTypeCart = "cart"

// SourceStorefront identifies events emitted by this service.
const SourceStorefront = "storefront"

// DefaultQueueSize bounds the events waiting to be published.
const DefaultQueueSize = 256

// CartUpdatedData is the payload of cart.updated.
type CartUpdatedData struct {
	SessionID string         `json:"session_id"`
	Change    string         `json:"change"`
	ProductID int            `json:"product_id"`
	Items     []CartItemData `json:"items"`
	ItemCount int            `json:"item_count"`
	Total     string         `json:"total"`
	Currency  string         `json:"currency"`
}

// CartItemData is one line in a cart event.
type CartItemData struct {
	ProductID int    `json:"product_id"`
	Name      string `json:"name"`
	Price     string `json:"price"`
	Quantity  int    `json:"quantity"`
}

// CartClearedData is the payload of cart.cleared.
type CartClearedData struct {
	SessionID string `json:"session_id"`
}

// Publisher writes one event to a topic. *pkgkafka.Producer implements it.
type Publisher interface {
	Publish(ctx context.Context, topic string, event *pkgkafka.Event) error
}

type outgoing struct {
	topic string
	event *pkgkafka.Event
}

// ActivityPublisher turns cart changes into Kafka events. Changes are queued
// and published by Run, so a slow broker never holds up a page. A full queue
// drops the event.
type ActivityPublisher struct {
	pub     Publisher
	breaker *breaker.Breaker
	logger  *slog.Logger
	queue   chan outgoing
	nowFunc func() time.Time

	published *prometheus.CounterVec
	dropped   prometheus.Counter
}

// NewActivityPublisher creates a publisher with room for queueSize pending
// events. reg receives the publish counters.
func NewActivityPublisher(pub Publisher, br *breaker.Breaker, reg prometheus.Registerer, queueSize int, logger *slog.Logger) *ActivityPublisher {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	f := promauto.With(reg)
	return &ActivityPublisher{
		pub:     pub,
		breaker: br,
		logger:  logger,
		queue:   make(chan outgoing, queueSize),
		nowFunc: time.Now,
		published: f.NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_cart_events_total",
			Help: "Cart activity events by publish result",
		}, []string{"result"}),
		dropped: f.NewCounter(prometheus.CounterOpts{
			Name: "storefront_cart_events_dropped_total",
			Help: "Cart activity events dropped because the queue was full",
		}),
	}
}

// ForSession returns the cart listener of one session.
func (p *ActivityPublisher) ForSession(sessionID string) service.CartListener {
	return service.CartListenerFunc(func(ctx context.Context, change service.Change) {
		p.enqueue(ctx, sessionID, change)
	})
}

func (p *ActivityPublisher) enqueue(ctx context.Context, sessionID string, change service.Change) {
	topic, evt, err := p.build(sessionID, change)
	if err != nil {
		p.logger.ErrorContext(ctx, "failed to build cart event", slog.String("error", err.Error()))
		return
	}
	if id := logger.CorrelationIDFromContext(ctx); id != "" {
		evt.WithCorrelationID(id)
	}

	select {
	case p.queue <- outgoing{topic: topic, event: evt}:
	default:
		p.dropped.Inc()
		p.logger.WarnContext(ctx, "cart event queue full, dropping event",
			slog.String("event_type", evt.EventType),
		)
	}
}

func (p *ActivityPublisher) build(sessionID string, change service.Change) (string, *pkgkafka.Event, error) {
	now := p.nowFunc()
	if change.Kind == domain.ChangeCleared {
		evt, err := pkgkafka.NewEvent(TypeCartCleared, AggregateTypeCart, sessionID, SourceStorefront, now,
			CartClearedData{SessionID: sessionID})
		return TopicCartCleared, evt, err
	}

	items := make([]CartItemData, len(change.Lines))
	for i, l := range change.Lines {
		items[i] = CartItemData{
			ProductID: l.ID,
			Name:      l.Name,
			Price:     l.Price.StringFixed(2),
			Quantity:  l.Quantity,
		}
	}
	evt, err := pkgkafka.NewEvent(TypeCartUpdated, AggregateTypeCart, sessionID, SourceStorefront, now, CartUpdatedData{
		SessionID: sessionID,
		Change:    string(change.Kind),
		ProductID: change.ProductID,
		Items:     items,
		ItemCount: change.ItemCount,
		Total:     change.Total.StringFixed(2),
		Currency:  domain.Currency.String(),
	})
	return TopicCartUpdated, evt, err
}

// Run publishes queued events until ctx is cancelled.
func (p *ActivityPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case out := <-p.queue:
			p.publish(ctx, out)
		}
	}
}

func (p *ActivityPublisher) publish(ctx context.Context, out outgoing) {
	ctx, span := tracer.Start(ctx, "kafka.publish "+out.topic,
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination.name", out.topic),
			attribute.String("event.type", out.event.EventType),
		),
	)
	defer span.End()

	err := p.breaker.Do(ctx, func(ctx context.Context) error {
		return p.pub.Publish(ctx, out.topic, out.event)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.published.WithLabelValues("failed").Inc()
		p.logger.WarnContext(ctx, "failed to publish cart event",
			slog.String("topic", out.topic),
			slog.String("event_type", out.event.EventType),
			slog.String("error", err.Error()),
		)
		return
	}
	p.published.WithLabelValues("ok").Inc()
}

// Pending is the number of queued events.
func (p *ActivityPublisher) Pending() int {
	return len(p.queue)
}
