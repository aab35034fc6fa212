package models

import (
	"context"
	"encoding/json"
	"time"

	"bitbucket.org/mmdatafocus/distribution_backend/config"
	"bitbucket.org/mmdatafocus/distribution_backend/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type OutboxAction string

const (
	OutboxActionShipmentConfirmed OutboxAction = "shipment.confirmed"
)

// OutboxRecord is the transactional outbox: the event row is written inside
// the same DB transaction as the state change it describes, and the
// dispatcher publishes it to Pub/Sub after commit.
type OutboxRecord struct {
	ID            int          `gorm:"primary_key;index:idx_outbox_dispatch,priority:3" json:"id"`
	SessionId     int          `gorm:"not null;index" json:"session_id"`
	EventDateTime time.Time    `gorm:"index;not null" json:"event_date_time"`
	ReferenceId   int          `json:"reference_id"`
	ReferenceType string       `gorm:"size:30" json:"reference_type"`
	Action        OutboxAction `gorm:"size:50;not null" json:"action"`
	Payload       []byte       `gorm:"type:blob" json:"payload"`

	// Publish metadata (publish happens after commit via dispatcher).
	PublishStatus    string     `gorm:"size:20;index;not null;default:'PENDING';index:idx_outbox_dispatch,priority:1" json:"publish_status"` // PENDING|PROCESSING|SENT|FAILED|DEAD
	PublishedAt      *time.Time `gorm:"index" json:"published_at"`
	PubSubMessageId  *string    `gorm:"size:255" json:"pubsub_message_id"`
	PublishAttempts  int        `gorm:"not null;default:0" json:"publish_attempts"`
	NextAttemptAt    *time.Time `gorm:"index;index:idx_outbox_dispatch,priority:2" json:"next_attempt_at"`
	LockedAt         *time.Time `gorm:"index" json:"locked_at"`
	LockedBy         *string    `gorm:"size:100" json:"locked_by"`
	LastPublishError *string    `gorm:"type:text" json:"last_publish_error"`
	CorrelationId    string     `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (OutboxRecord) TableName() string {
	return "outbox_records"
}

// PublishShipmentConfirmed writes the shipment.confirmed event record inside
// the caller's DB transaction but does NOT publish to Pub/Sub. Publishing is
// performed asynchronously by the outbox dispatcher after commit.
func PublishShipmentConfirmed(ctx context.Context, tx *gorm.DB, session *ShipmentSession, result *ShipmentResult, at time.Time) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return err
	}
	record := OutboxRecord{
		SessionId:     session.ID,
		EventDateTime: at,
		ReferenceId:   utils.DereferencePtr(session.OrderId),
		ReferenceType: string(MovementReferenceTypeOrder),
		Action:        OutboxActionShipmentConfirmed,
		Payload:       payload,
		PublishStatus: OutboxPublishStatusPending,
		CorrelationId: correlationIdFromContextOrNew(ctx),
	}
	return tx.Create(&record).Error
}

func correlationIdFromContextOrNew(ctx context.Context) string {
	if ctx != nil {
		if v, ok := utils.GetCorrelationIdFromContext(ctx); ok && v != "" {
			return v
		}
	}
	return uuid.NewString()
}

func ConvertToPubSubMessage(record OutboxRecord) config.PubSubMessage {
	return config.PubSubMessage{
		ID:            record.ID,
		SessionId:     record.SessionId,
		EventDateTime: record.EventDateTime,
		ReferenceId:   record.ReferenceId,
		ReferenceType: record.ReferenceType,
		Action:        string(record.Action),
		Payload:       record.Payload,
		CorrelationId: record.CorrelationId,
	}
}
