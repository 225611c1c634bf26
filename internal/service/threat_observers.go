package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/citygrid-api/internal/models"
)

type alertPublisher interface {
	Topic(parts ...string) string
	PublishJSON(topic string, v interface{}, retained bool) error
}

// threatLevelMessage is the retained payload on the threat level topic.
type threatLevelMessage struct {
	Level         models.ThreatLevel `json:"level"`
	PreviousLevel models.ThreatLevel `json:"previousLevel"`
	Score         int                `json:"score"`
	Cause         string             `json:"cause"`
	At            time.Time          `json:"at"`
}

type threatEventMessage struct {
	Type     models.ThreatEventType `json:"type"`
	Severity models.Severity        `json:"severity"`
	Endpoint string                 `json:"endpoint,omitempty"`
	Score    int                    `json:"score"`
	At       time.Time              `json:"at"`
}

// AlertBusObserver publishes level transitions as retained messages so late
// subscribers see the current level, and forwards high and critical events.
type AlertBusObserver struct {
	bus    alertPublisher
	logger *zap.Logger
}

// NewAlertBusObserver constructs an AlertBusObserver.
func NewAlertBusObserver(bus alertPublisher, logger *zap.Logger) *AlertBusObserver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AlertBusObserver{bus: bus, logger: logger}
}

// ThreatScoreChanged implements ThreatObserver.
func (o *AlertBusObserver) ThreatScoreChanged(_ context.Context, change ThreatScoreChange) {
	if change.LevelChanged() {
		msg := threatLevelMessage{
			Level:         change.Level,
			PreviousLevel: change.PreviousLevel,
			Score:         change.Score,
			Cause:         change.Cause,
			At:            change.At,
		}
		if err := o.bus.PublishJSON(o.bus.Topic("security", "threat-level"), msg, true); err != nil {
			o.logger.Warn("failed to publish threat level", zap.Error(err))
		}
	}
	if change.Event == nil {
		return
	}
	if change.Event.Severity != models.SeverityHigh && change.Event.Severity != models.SeverityCritical {
		return
	}
	msg := threatEventMessage{
		Type:     change.Event.Type,
		Severity: change.Event.Severity,
		Endpoint: change.Event.Endpoint,
		Score:    change.Score,
		At:       change.At,
	}
	if err := o.bus.PublishJSON(o.bus.Topic("security", "events"), msg, false); err != nil {
		o.logger.Warn("failed to publish threat event", zap.Error(err))
	}
}

type threatHistoryWriter interface {
	WriteThreatScore(score int, level, cause string, at time.Time)
	WriteThreatEvent(eventType, severity string, delta int, at time.Time)
}

// HistoryObserver writes every score change to the time-series store.
type HistoryObserver struct {
	writer threatHistoryWriter
}

// NewHistoryObserver constructs a HistoryObserver.
func NewHistoryObserver(writer threatHistoryWriter) *HistoryObserver {
	return &HistoryObserver{writer: writer}
}

// ThreatScoreChanged implements ThreatObserver.
func (o *HistoryObserver) ThreatScoreChanged(_ context.Context, change ThreatScoreChange) {
	if change.Event != nil {
		o.writer.WriteThreatEvent(string(change.Event.Type), string(change.Event.Severity), change.Event.Severity.Delta(), change.At)
	}
	o.writer.WriteThreatScore(change.Score, string(change.Level), change.Cause, change.At)
}
