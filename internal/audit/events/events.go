// Package events publishes audit lifecycle events once an audit reaches a
// terminal status.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kgo"

	"brandaudit/internal/audit/models"
)

type Type string

const (
	TypeCompleted Type = "audit.completed"
	TypeFailed    Type = "audit.failed"
)

// Event is the payload written to the audit topic.
type Event struct {
	ID                string        `json:"id"`
	Type              Type          `json:"type"`
	AuditID           string        `json:"auditId"`
	BrandName         string        `json:"brandName"`
	WebsiteURL        string        `json:"websiteUrl"`
	Status            models.Status `json:"status"`
	ResultsProcessed  int           `json:"resultsProcessed"`
	MentionsFound     int           `json:"mentionsFound"`
	CoverageRate      int           `json:"coverageRate"`
	TotalPublications int           `json:"totalPublications"`
	TopSource         *string       `json:"topSource,omitempty"`
	CreatedAt         time.Time     `json:"createdAt"`
	CompletedAt       *time.Time    `json:"completedAt,omitempty"`
	OccurredAt        time.Time     `json:"occurredAt"`
}

// FromAudit builds the terminal event for a. It returns false when a is not
// terminal.
func FromAudit(a *models.Audit, now time.Time) (Event, bool) {
	var t Type
	switch a.Status {
	case models.StatusCompleted:
		t = TypeCompleted
	case models.StatusFailed:
		t = TypeFailed
	default:
		return Event{}, false
	}
	return Event{
		ID:                uuid.NewString(),
		Type:              t,
		AuditID:           a.ID,
		BrandName:         a.BrandName,
		WebsiteURL:        a.WebsiteURL,
		Status:            a.Status,
		ResultsProcessed:  len(a.Results),
		MentionsFound:     a.MentionsFound,
		CoverageRate:      a.CoverageRate,
		TotalPublications: a.TotalPublications,
		TopSource:         a.TopSource,
		CreatedAt:         a.CreatedAt,
		CompletedAt:       a.CompletedAt,
		OccurredAt:        now,
	}, true
}

// Producer is the subset of *kgo.Client used for publishing.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// KafkaPublisher writes events keyed by audit id so one audit's events stay
// ordered on a partition.
type KafkaPublisher struct {
	producer Producer
	topic    string
	logger   *slog.Logger
}

func NewKafkaPublisher(producer Producer, topic string, logger *slog.Logger) *KafkaPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &KafkaPublisher{producer: producer, topic: topic, logger: logger}
}

func (p *KafkaPublisher) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	record := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(event.AuditID),
		Value: payload,
		Headers: []kgo.RecordHeader{
			{Key: "event_type", Value: []byte(event.Type)},
		},
	}
	if err := p.producer.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce %s for audit %s: %w", event.Type, event.AuditID, err)
	}
	p.logger.DebugContext(ctx, "audit event published",
		"audit_id", event.AuditID,
		"event_type", event.Type,
	)
	return nil
}

// NopPublisher drops events. Used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
