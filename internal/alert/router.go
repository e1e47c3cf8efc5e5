package alert

import (
	"context"

	"github.com/riskeye/internal/models"
)

// EvaluatedAlert is what notifiers receive: the alert, its new state and
// the evaluation that produced it.
type EvaluatedAlert struct {
	Config     models.AlertConfig `json:"config"`
	State      models.AlertState  `json:"state"`
	Previous   models.Level       `json:"previous"`
	Value      float64            `json:"value"`
	Bands      Bands              `json:"bands"`
	Message    string             `json:"message"`
	Transition *TransitionEvent   `json:"transition,omitempty"`
}

type Notifier interface {
	Name() string
	Send(ctx context.Context, alert EvaluatedAlert) error
}

type Router interface {
	Route(alert EvaluatedAlert) []Notifier
}

// TypeRouter picks notifiers by notification type. Broadcast notifiers
// receive every alert.
type TypeRouter struct {
	byType    map[models.NotificationType][]Notifier
	broadcast []Notifier
}

func NewTypeRouter() *TypeRouter {
	return &TypeRouter{byType: make(map[models.NotificationType][]Notifier)}
}

func (r *TypeRouter) Register(t models.NotificationType, notifiers ...Notifier) *TypeRouter {
	for _, n := range notifiers {
		if n != nil {
			r.byType[t] = append(r.byType[t], n)
		}
	}
	return r
}

func (r *TypeRouter) Broadcast(notifiers ...Notifier) *TypeRouter {
	for _, n := range notifiers {
		if n != nil {
			r.broadcast = append(r.broadcast, n)
		}
	}
	return r
}

func (r *TypeRouter) Route(alert EvaluatedAlert) []Notifier {
	targets := append([]Notifier(nil), r.byType[alert.Config.NotificationType]...)
	return append(targets, r.broadcast...)
}

// ChannelGate reports whether a section's notification channel is on.
// *monitorcfg.Resolver implements it.
type ChannelGate interface {
	ChannelEnabled(section, channel string) bool
}

// GatedRouter drops the routed notifiers when the config document has the
// alert's channel switched off. Broadcast sinks are never gated.
type GatedRouter struct {
	Next Router
	Gate ChannelGate
}

func (g GatedRouter) Route(alert EvaluatedAlert) []Notifier {
	targets := g.Next.Route(alert)
	if _, _, off := g.Disabled(alert); !off {
		return targets
	}

	var keep []Notifier
	if tr, ok := g.Next.(*TypeRouter); ok {
		keep = append(keep, tr.broadcast...)
	}
	return keep
}

// Disabled reports the section and channel toggle that suppresses the
// alert's routed notifiers, if any.
func (g GatedRouter) Disabled(alert EvaluatedAlert) (section, channel string, off bool) {
	if g.Gate == nil {
		return "", "", false
	}
	section = SectionFor(alert.Config.AlertType)
	channel = ChannelFor(alert.Config.NotificationType)
	if section == "" || channel == "" || g.Gate.ChannelEnabled(section, channel) {
		return "", "", false
	}
	return section, channel, true
}

// SectionFor maps an alert type onto its config document section.
func SectionFor(alertType string) string {
	switch alertType {
	case "TravelPercent", "TravelPercentLiquid", "LiquidationDistance":
		return "liquid"
	case "Profit":
		return "profit"
	case "Price", "PriceThreshold":
		return "price"
	default:
		return ""
	}
}

// ChannelFor maps a notification type onto its toggle name. EMAIL has no
// toggle.
func ChannelFor(t models.NotificationType) string {
	switch t {
	case models.NotificationSMS:
		return "sms"
	case models.NotificationPhoneCall:
		return "voice"
	case models.NotificationWindows:
		return "system"
	default:
		return ""
	}
}
