package ports

import "context"

// EventPublisher publishes events to notify other instances
type EventPublisher interface {
	PublishLogout(ctx context.Context, subject, sessionID, tokenID string) error
	PublishReplayDetected(ctx context.Context, subject, sessionID string) error
	PublishSessionsRevoked(ctx context.Context, subject string, sessionIDs []string) error
}
