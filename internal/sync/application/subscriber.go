package application

import (
	"context"
	"errors"
	"log/slog"

	"github.com/inspersync/inspersync/internal/portal"
	"github.com/inspersync/inspersync/internal/shared/infrastructure/eventbus"
)

// RoutingKeySyncRetry parks failed jobs on the delay queue; after its TTL
// they dead-letter back in under RoutingKeySyncRequested.
const RoutingKeySyncRetry = "sync.user.retry"

// maxSyncAttempts bounds the automatic retries per job.
const maxSyncAttempts = 3

// SyncRequestSubscriber consumes sync.user.requested jobs and runs the
// orchestrator. Transient failures are republished onto the retry queue;
// rejected logins are terminal because retrying cannot fix credentials.
type SyncRequestSubscriber struct {
	orchestrator *Orchestrator
	publisher    eventbus.Publisher
	logger       *slog.Logger
}

// NewSyncRequestSubscriber creates the subscriber.
func NewSyncRequestSubscriber(orchestrator *Orchestrator, publisher eventbus.Publisher, logger *slog.Logger) *SyncRequestSubscriber {
	if logger == nil {
		logger = slog.Default()
	}
	return &SyncRequestSubscriber{
		orchestrator: orchestrator,
		publisher:    publisher,
		logger:       logger,
	}
}

// EventTypes returns the routing keys this subscriber handles.
func (s *SyncRequestSubscriber) EventTypes() []string {
	return []string{RoutingKeySyncRequested}
}

// Handle runs one sync job. It always returns nil so the broker acks the
// delivery: retries are driven through the delay queue, not through nack
// redelivery.
func (s *SyncRequestSubscriber) Handle(ctx context.Context, event *eventbus.Event) error {
	var request SyncRequest
	if err := event.DecodePayload(&request); err != nil {
		s.logger.Error("sync request payload unreadable", "event_id", event.EventID, "error", err)
		return nil
	}
	if request.Attempt < 1 {
		request.Attempt = 1
	}

	outcome, err := s.orchestrator.SyncUserCalendar(ctx, request.UserID, request.StartDate, request.EndDate)
	if err == nil {
		if outcome != nil && outcome.Skipped {
			s.logger.Info("sync job skipped", "user_id", request.UserID, "reason", outcome.SkipReason)
		}
		return nil
	}

	if errors.Is(err, portal.ErrLoginRejected) || errors.Is(err, ErrUserNotFound) {
		s.logger.Error("sync job failed terminally",
			"user_id", request.UserID, "attempt", request.Attempt, "error", err)
		return nil
	}

	if request.Attempt >= maxSyncAttempts {
		s.logger.Error("sync job exhausted retries",
			"user_id", request.UserID, "attempt", request.Attempt, "error", err)
		return nil
	}

	s.logger.Warn("sync job failed, scheduling retry",
		"user_id", request.UserID, "attempt", request.Attempt, "error", err)
	retry := request
	retry.Attempt++
	retryEvent, encodeErr := eventbus.NewEvent(RoutingKeySyncRetry, request.UserID, "user", retry)
	if encodeErr != nil {
		s.logger.Error("retry event build failed", "user_id", request.UserID, "error", encodeErr)
		return nil
	}
	// The delay queue's dead-letter key points back at the requested key.
	if publishErr := eventbus.PublishEvent(ctx, s.publisher, retryEvent); publishErr != nil {
		s.logger.Error("retry publish failed", "user_id", request.UserID, "error", publishErr)
	}
	return nil
}
