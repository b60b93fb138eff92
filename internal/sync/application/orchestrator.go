package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	identityDomain "github.com/inspersync/inspersync/internal/identity/domain"
	"github.com/inspersync/inspersync/internal/portal"
	"github.com/inspersync/inspersync/internal/shared/infrastructure/eventbus"
	"github.com/inspersync/inspersync/internal/sync/domain"
	"github.com/inspersync/inspersync/pkg/observability"
)

// RoutingKeySyncRequested is the bus routing key for per-user sync jobs.
const RoutingKeySyncRequested = "sync.user.requested"

// runningSessionWindow bounds the in-flight check: a running session older
// than this is assumed crashed and no longer blocks new runs.
const runningSessionWindow = 30 * time.Minute

// ErrSyncAlreadyRunning is returned when a manual trigger hits a user with
// a live session.
var ErrSyncAlreadyRunning = errors.New("a sync is already running for this user")

// ErrUserNotFound is returned for unknown user ids.
var ErrUserNotFound = errors.New("user not found")

// SyncRequest is the bus payload for one sync job.
type SyncRequest struct {
	UserID    uuid.UUID  `json:"user_id"`
	StartDate *time.Time `json:"start_date,omitempty"`
	EndDate   *time.Time `json:"end_date,omitempty"`
	Attempt   int        `json:"attempt"`
}

// SyncOutcome reports how a sync invocation ended. A skip (capabilities
// incomplete, sync disabled) is a normal outcome, not an error.
type SyncOutcome struct {
	Skipped    bool
	SkipReason string
	Session    *domain.SyncSession
}

// Orchestrator drives one full sync run per invocation: scrape, calendar
// resolution, reconciliation, and the durable session record.
type Orchestrator struct {
	users        identityDomain.UserRepository
	configs      domain.SyncConfigurationRepository
	sessions     domain.SyncSessionRepository
	insperEvents domain.InsperEventRepository

	portal     PortalGateway
	calendar   CalendarGateway
	reconciler *Reconciler
	publisher  eventbus.Publisher
	logger     *slog.Logger
	metrics    observability.Metrics
	now        func() time.Time
}

// NewOrchestrator wires the orchestrator.
func NewOrchestrator(
	users identityDomain.UserRepository,
	configs domain.SyncConfigurationRepository,
	sessions domain.SyncSessionRepository,
	insperEvents domain.InsperEventRepository,
	portalGateway PortalGateway,
	calendar CalendarGateway,
	reconciler *Reconciler,
	publisher eventbus.Publisher,
	logger *slog.Logger,
) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		users:        users,
		configs:      configs,
		sessions:     sessions,
		insperEvents: insperEvents,
		portal:       portalGateway,
		calendar:     calendar,
		reconciler:   reconciler,
		publisher:    publisher,
		logger:       logger,
		metrics:      observability.NoopMetrics{},
		now:          time.Now,
	}
}

// WithMetrics swaps in a metrics collector. The default is a no-op.
func (o *Orchestrator) WithMetrics(metrics observability.Metrics) *Orchestrator {
	if metrics != nil {
		o.metrics = metrics
	}
	return o
}

// SyncUserCalendar performs one sync run. A nil start or end selects the
// default window: first of the current month through first of next month
// plus 31 days, generous enough to absorb semester-end events.
func (o *Orchestrator) SyncUserCalendar(ctx context.Context, userID uuid.UUID, start, end *time.Time) (*SyncOutcome, error) {
	user, err := o.users.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if user == nil {
		return nil, ErrUserNotFound
	}

	if !user.CanSync() {
		reason := "user not ready to sync: " + strings.Join(user.Capabilities().Missing(), ", ")
		o.logger.Info("sync skipped", "user_id", userID, "reason", reason)
		o.metrics.Counter(observability.MetricSyncSkips, 1)
		return &SyncOutcome{Skipped: true, SkipReason: reason}, nil
	}

	config, err := o.loadOrCreateConfig(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !config.SyncEnabled() {
		o.metrics.Counter(observability.MetricSyncSkips, 1)
		return &SyncOutcome{Skipped: true, SkipReason: "sync disabled in configuration"}, nil
	}

	rangeStart, rangeEnd := o.resolveRange(start, end)

	session := domain.NewSyncSession(userID, rangeStart, rangeEnd)
	if err := o.sessions.Save(ctx, session); err != nil {
		return nil, fmt.Errorf("open sync session: %w", err)
	}

	config.RecordSyncAttempt(o.now())
	if err := o.configs.Save(ctx, config); err != nil {
		o.logger.Warn("sync attempt stamp failed", "user_id", userID, "error", err)
	}

	started := o.now()
	if err := o.runSession(ctx, user, config, session, rangeStart, rangeEnd); err != nil {
		o.failSession(ctx, session, err)
		o.metrics.Counter(observability.MetricSyncFailures, 1)
		return &SyncOutcome{Session: session}, err
	}

	session.MarkCompleted()
	if err := o.sessions.Save(ctx, session); err != nil {
		return &SyncOutcome{Session: session}, fmt.Errorf("close sync session: %w", err)
	}

	user.RecordSync(o.now())
	if err := o.users.Save(ctx, user); err != nil {
		o.logger.Warn("last sync stamp failed", "user_id", userID, "error", err)
	}

	o.logger.Info("sync completed",
		"user_id", userID,
		"status", session.Status(),
		"insper_events", session.InsperEventsFound(),
		"google_events", session.GoogleEventsFound(),
		"created", session.EventsCreated(),
		"updated", session.EventsUpdated(),
		"deleted", session.EventsDeleted(),
		"failed", session.EventsFailed(),
	)

	o.metrics.Counter(observability.MetricSyncRuns, 1)
	o.metrics.Timing(observability.MetricSyncDuration, o.now().Sub(started))
	o.metrics.Counter(observability.MetricEventsCreated, int64(session.EventsCreated()))
	o.metrics.Counter(observability.MetricEventsUpdated, int64(session.EventsUpdated()))
	o.metrics.Counter(observability.MetricEventsDeleted, int64(session.EventsDeleted()))
	o.metrics.Counter(observability.MetricEventsFailed, int64(session.EventsFailed()))

	return &SyncOutcome{Session: session}, nil
}

func (o *Orchestrator) runSession(
	ctx context.Context,
	user *identityDomain.User,
	config *domain.SyncConfiguration,
	session *domain.SyncSession,
	rangeStart, rangeEnd time.Time,
) error {
	scraped, failedWindows, err := o.portal.FetchEvents(ctx, user.PortalUsername(), user.PortalPasswordCiphertext(), rangeStart, rangeEnd)
	if err != nil {
		return fmt.Errorf("portal scrape: %w", err)
	}
	for _, window := range failedWindows {
		o.logger.Warn("scrape window failed",
			"user_id", user.ID(), "window_start", window.Start, "window_end", window.End)
	}
	o.metrics.Counter(observability.MetricPortalEventsFound, int64(len(scraped)))
	if len(failedWindows) > 0 {
		o.metrics.Counter(observability.MetricPortalWindowsFailed, int64(len(failedWindows)))
	}

	upstream, err := o.persistUpstream(ctx, user.ID(), scraped, failedWindows, rangeStart, rangeEnd)
	if err != nil {
		return fmt.Errorf("persist upstream mirror: %w", err)
	}

	calendarID, err := o.calendar.FindOrCreateCalendar(ctx, user.ID(), config.GoogleCalendarName())
	if err != nil {
		return fmt.Errorf("resolve calendar: %w", err)
	}
	if calendarID != user.GoogleCalendarID() {
		user.SetGoogleCalendarID(calendarID)
		if err := o.users.Save(ctx, user); err != nil {
			o.logger.Warn("calendar id update failed", "user_id", user.ID(), "error", err)
		}
	}

	remote, err := o.calendar.ListEvents(ctx, user.ID(), calendarID, rangeStart, rangeEnd)
	if err != nil {
		return fmt.Errorf("list downstream events: %w", err)
	}
	markered := make([]RemoteEvent, 0, len(remote))
	for _, event := range remote {
		if event.SyncedFromInsper() {
			markered = append(markered, event)
		}
	}

	session.RecordDiscovery(len(scraped), len(markered))
	if err := o.sessions.Save(ctx, session); err != nil {
		o.logger.Warn("session checkpoint failed", "user_id", user.ID(), "error", err)
	}

	return o.reconciler.Reconcile(ctx, ReconcileInput{
		UserID:        user.ID(),
		CalendarID:    calendarID,
		Config:        config,
		Session:       session,
		Upstream:      upstream,
		Downstream:    markered,
		FailedWindows: failedWindows,
	})
}

// persistUpstream upserts the scraped events into the mirror table and
// deactivates mirrors in range that the scrape no longer returned. Rows
// inside a failed scrape window are left untouched.
func (o *Orchestrator) persistUpstream(
	ctx context.Context,
	userID uuid.UUID,
	scraped []portal.Event,
	failedWindows []portal.Window,
	rangeStart, rangeEnd time.Time,
) ([]*domain.InsperEvent, error) {
	mirrors := make([]*domain.InsperEvent, 0, len(scraped))
	seen := make(map[string]struct{}, len(scraped))
	for _, event := range scraped {
		mirror, err := o.insperEvents.FindByUserAndInsperID(ctx, userID, event.InsperEventID)
		if err != nil {
			return nil, err
		}
		if mirror == nil {
			mirror = domain.NewInsperEvent(userID, event.InsperEventID)
		}
		mirror.InsperInternalID = event.InternalID
		mirror.Title = event.Title
		mirror.Description = event.Description
		mirror.StartDatetime = event.Start
		mirror.EndDatetime = event.End
		mirror.AllDay = event.AllDay
		mirror.DisciplinaCodigo = event.DisciplineCode
		mirror.Docente = event.Instructor
		mirror.Turma = event.ClassGroup
		mirror.Dependencia = event.Location
		mirror.TipoEvento = event.EventType
		mirror.Timezone = event.Timezone
		mirror.RawData = event.Raw
		mirror.IsActive = true
		mirror.Touch()
		if err := o.insperEvents.Save(ctx, mirror); err != nil {
			return nil, err
		}
		mirrors = append(mirrors, mirror)
		seen[event.InsperEventID] = struct{}{}
	}

	inRange, err := o.insperEvents.FindByUserInRange(ctx, userID, rangeStart, rangeEnd)
	if err != nil {
		return nil, err
	}
	for _, mirror := range inRange {
		if _, ok := seen[mirror.InsperEventID]; ok {
			continue
		}
		if !mirror.IsActive {
			continue
		}
		if _, covered := coveredByFailedWindow(mirror.StartDatetime, failedWindows); covered {
			continue
		}
		mirror.IsActive = false
		mirror.Touch()
		if err := o.insperEvents.Save(ctx, mirror); err != nil {
			return nil, err
		}
	}

	return mirrors, nil
}

func (o *Orchestrator) failSession(ctx context.Context, session *domain.SyncSession, cause error) {
	message := cause.Error()
	if errors.Is(cause, context.Canceled) {
		message = "cancelled"
	}
	session.MarkFailed(message, map[string]any{"error": cause.Error()})
	if err := o.sessions.Save(ctx, session); err != nil {
		o.logger.Error("failed session not persisted", "session_id", session.ID(), "error", err)
	}
}

func (o *Orchestrator) resolveRange(start, end *time.Time) (time.Time, time.Time) {
	if start != nil && end != nil {
		return *start, *end
	}
	loc := portal.SaoPaulo()
	now := o.now().In(loc)
	firstOfMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, loc)
	firstOfNext := firstOfMonth.AddDate(0, 1, 0)
	defaultEnd := firstOfNext.AddDate(0, 0, 31)

	if start == nil && end == nil {
		return firstOfMonth, defaultEnd
	}
	if start == nil {
		return firstOfMonth, *end
	}
	return *start, defaultEnd
}

func (o *Orchestrator) loadOrCreateConfig(ctx context.Context, userID uuid.UUID) (*domain.SyncConfiguration, error) {
	config, err := o.configs.FindByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load sync configuration: %w", err)
	}
	if config != nil {
		return config, nil
	}
	config = domain.NewSyncConfiguration(userID)
	if err := o.configs.Save(ctx, config); err != nil {
		return nil, fmt.Errorf("create sync configuration: %w", err)
	}
	return config, nil
}

// RequestSync enqueues a sync job, rejecting the request when the user
// already has a session running within the last 30 minutes.
func (o *Orchestrator) RequestSync(ctx context.Context, userID uuid.UUID, start, end *time.Time) error {
	running, err := o.hasRecentRunning(ctx, userID)
	if err != nil {
		return err
	}
	if running {
		return ErrSyncAlreadyRunning
	}
	return o.publishRequest(ctx, SyncRequest{UserID: userID, StartDate: start, EndDate: end, Attempt: 1})
}

// EnqueueDueUsers publishes sync jobs for every syncable user whose
// configured frequency has elapsed. Returns the number enqueued.
func (o *Orchestrator) EnqueueDueUsers(ctx context.Context) (int, error) {
	users, err := o.users.FindAllSyncable(ctx)
	if err != nil {
		return 0, fmt.Errorf("list syncable users: %w", err)
	}

	enqueued := 0
	for _, user := range users {
		config, err := o.loadOrCreateConfig(ctx, user.ID())
		if err != nil {
			o.logger.Warn("scheduler skipped user", "user_id", user.ID(), "error", err)
			continue
		}
		if !config.SyncEnabled() || o.now().Before(config.DueAt()) {
			continue
		}
		running, err := o.hasRecentRunning(ctx, user.ID())
		if err != nil || running {
			continue
		}
		if err := o.publishRequest(ctx, SyncRequest{UserID: user.ID(), Attempt: 1}); err != nil {
			o.logger.Warn("enqueue failed", "user_id", user.ID(), "error", err)
			continue
		}
		enqueued++
	}
	return enqueued, nil
}

// CleanupSessions deletes session rows older than the retention window.
func (o *Orchestrator) CleanupSessions(ctx context.Context, retention time.Duration) (int64, error) {
	return o.sessions.DeleteOlderThan(ctx, o.now().Add(-retention))
}

func (o *Orchestrator) hasRecentRunning(ctx context.Context, userID uuid.UUID) (bool, error) {
	running, err := o.sessions.FindRunningSince(ctx, userID, o.now().Add(-runningSessionWindow))
	if err != nil {
		return false, fmt.Errorf("check running sessions: %w", err)
	}
	return len(running) > 0, nil
}

func (o *Orchestrator) publishRequest(ctx context.Context, request SyncRequest) error {
	event, err := eventbus.NewEvent(RoutingKeySyncRequested, request.UserID, "user", request)
	if err != nil {
		return err
	}
	return eventbus.PublishEvent(ctx, o.publisher, event)
}
