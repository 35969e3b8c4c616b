package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/layer-3/tokenward/ports"
)

// Topics events are published on
const (
	TopicLogout          = "tokenward.logout"
	TopicReplayDetected  = "tokenward.replay_detected"
	TopicSessionsRevoked = "tokenward.sessions_revoked"
)

// LogoutEvent represents a logout event
type LogoutEvent struct {
	Subject    string    `json:"subject"`
	SessionID  string    `json:"session_id,omitempty"`
	TokenID    string    `json:"token_id,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// ReplayDetectedEvent is raised when a superseded refresh token is presented.
// The session has already been revoked when it is published.
type ReplayDetectedEvent struct {
	Subject    string    `json:"subject"`
	SessionID  string    `json:"session_id"`
	OccurredAt time.Time `json:"occurred_at"`
}

// SessionsRevokedEvent reports a bulk revocation for one subject
type SessionsRevokedEvent struct {
	Subject    string    `json:"subject"`
	SessionIDs []string  `json:"session_ids"`
	OccurredAt time.Time `json:"occurred_at"`
}

// WatermillPublisher implements the EventPublisher interface using Watermill
type WatermillPublisher struct {
	publisher message.Publisher
	now       func() time.Time
}

var _ ports.EventPublisher = (*WatermillPublisher)(nil)

// NewWatermillPublisher creates a new Watermill publisher
func NewWatermillPublisher(publisher message.Publisher) *WatermillPublisher {
	return &WatermillPublisher{
		publisher: publisher,
		now:       time.Now,
	}
}

// PublishLogout publishes a logout event
func (p *WatermillPublisher) PublishLogout(ctx context.Context, subject, sessionID, tokenID string) error {
	return p.publish(ctx, TopicLogout, LogoutEvent{
		Subject:    subject,
		SessionID:  sessionID,
		TokenID:    tokenID,
		OccurredAt: p.now().UTC(),
	})
}

// PublishReplayDetected publishes a replay event
func (p *WatermillPublisher) PublishReplayDetected(ctx context.Context, subject, sessionID string) error {
	return p.publish(ctx, TopicReplayDetected, ReplayDetectedEvent{
		Subject:    subject,
		SessionID:  sessionID,
		OccurredAt: p.now().UTC(),
	})
}

// PublishSessionsRevoked publishes a bulk revocation event
func (p *WatermillPublisher) PublishSessionsRevoked(ctx context.Context, subject string, sessionIDs []string) error {
	return p.publish(ctx, TopicSessionsRevoked, SessionsRevokedEvent{
		Subject:    subject,
		SessionIDs: sessionIDs,
		OccurredAt: p.now().UTC(),
	})
}

func (p *WatermillPublisher) publish(ctx context.Context, topic string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.SetContext(ctx)

	if err := p.publisher.Publish(topic, msg); err != nil {
		return fmt.Errorf("failed to publish event to %s: %w", topic, err)
	}

	return nil
}

// NopPublisher drops every event
type NopPublisher struct{}

var _ ports.EventPublisher = NopPublisher{}

func (NopPublisher) PublishLogout(context.Context, string, string, string) error { return nil }

func (NopPublisher) PublishReplayDetected(context.Context, string, string) error { return nil }

func (NopPublisher) PublishSessionsRevoked(context.Context, string, []string) error { return nil }
