package service

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/alanyoungcy/bettogether/internal/domain"
	"github.com/alanyoungcy/bettogether/internal/notify"
	"github.com/alanyoungcy/bettogether/internal/settlement"
)

// EventStream is the durable stream every market event is appended to.
const EventStream = "settlement_events"

// MarketChannel is the pub/sub channel for one market's live events.
func MarketChannel(marketID string) string { return "market:" + marketID }

// MarketChannelPattern matches every MarketChannel.
const MarketChannelPattern = "market:*"

// EventChannel recovers the MarketChannel a published payload was sent on.
// Payloads without a market id map to MarketChannelPattern.
func EventChannel(payload []byte) string {
	var ev struct {
		MarketID string `json:"market_id"`
	}
	if err := json.Unmarshal(payload, &ev); err != nil || ev.MarketID == "" {
		return MarketChannelPattern
	}
	return MarketChannel(ev.MarketID)
}

// EventPublisher is the engine's event sink. It fans each event out to the
// market's pub/sub channel, the event stream, the audit log and the
// notifier. Delivery failures are logged and dropped; events are advisory.
type EventPublisher struct {
	bus      domain.SignalBus
	audit    domain.AuditStore
	notifier *notify.Notifier
	amounts  notify.Amounts
	logger   *slog.Logger
}

// NewEventPublisher creates an EventPublisher. notifier may be nil.
func NewEventPublisher(bus domain.SignalBus, audit domain.AuditStore, notifier *notify.Notifier, amounts notify.Amounts, logger *slog.Logger) *EventPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventPublisher{
		bus:      bus,
		audit:    audit,
		notifier: notifier,
		amounts:  amounts,
		logger:   logger.With(slog.String("component", "event_publisher")),
	}
}

// Emit implements settlement.EventSink.
func (p *EventPublisher) Emit(ctx context.Context, ev domain.MarketEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		p.fail(ctx, "marshal", ev, err)
		return
	}
	if err := p.bus.Publish(ctx, MarketChannel(ev.MarketID), payload); err != nil {
		p.fail(ctx, "publish", ev, err)
	}
	if err := p.bus.StreamAppend(ctx, EventStream, payload); err != nil {
		p.fail(ctx, "stream append", ev, err)
	}
	if err := p.audit.Log(ctx, "market."+string(ev.Type), auditDetail(ev)); err != nil {
		p.fail(ctx, "audit", ev, err)
	}
	if p.notifier.Enabled() {
		title, body := p.amounts.EventMessage(ev)
		if err := p.notifier.Notify(ctx, string(ev.Type), title, body); err != nil {
			p.fail(ctx, "notify", ev, err)
		}
	}
}

func (p *EventPublisher) fail(ctx context.Context, stage string, ev domain.MarketEvent, err error) {
	p.logger.WarnContext(ctx, "event delivery failed",
		slog.String("stage", stage),
		slog.String("event", string(ev.Type)),
		slog.String("market_id", ev.MarketID),
		slog.String("error", err.Error()),
	)
}

func auditDetail(ev domain.MarketEvent) map[string]any {
	d := map[string]any{"market_id": ev.MarketID}
	switch ev.Type {
	case domain.EventBetPlaced, domain.EventWithdrawalMade:
		d["user"] = ev.User.Hex()
	case domain.EventStateTransitioned:
		d["from"] = ev.From.String()
		d["to"] = ev.To.String()
	case domain.EventTokenAttached:
		d["token"] = ev.Token
	}
	if ev.Type != domain.EventStateTransitioned {
		d["outcome"] = ev.Outcome
	}
	if ev.Amount != nil {
		d["amount"] = ev.Amount.Dec()
	}
	if ev.Yield != nil {
		d["yield"] = ev.Yield.Dec()
	}
	return d
}

var _ settlement.EventSink = (*EventPublisher)(nil)
