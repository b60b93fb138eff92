package application

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/inspersync/inspersync/internal/portal"
	"github.com/inspersync/inspersync/internal/sync/domain"
)

// ReconcileInput carries everything one reconciliation pass needs. Upstream
// holds the full unfiltered mirror set for the range; the deny-lists are
// applied inside so an excluded event is invisible to both the apply loop
// and the orphan sweep.
type ReconcileInput struct {
	UserID     uuid.UUID
	CalendarID string
	Config     *domain.SyncConfiguration
	Session    *domain.SyncSession

	Upstream   []*domain.InsperEvent
	Downstream []RemoteEvent

	// FailedWindows are scrape months that errored. Downstream events
	// starting inside one are exempt from the orphan sweep: their absence
	// upstream proves nothing.
	FailedWindows []portal.Window
}

// Reconciler diffs the upstream mirror against the markered downstream
// events and applies creates, updates, and deletes.
type Reconciler struct {
	calendar     CalendarGateway
	insperEvents domain.InsperEventRepository
	googleEvents domain.GoogleEventRepository
	mappings     domain.EventMappingRepository
	formatter    *Formatter
	logger       *slog.Logger
}

// NewReconciler creates a reconciler.
func NewReconciler(
	calendar CalendarGateway,
	insperEvents domain.InsperEventRepository,
	googleEvents domain.GoogleEventRepository,
	mappings domain.EventMappingRepository,
	formatter *Formatter,
	logger *slog.Logger,
) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		calendar:     calendar,
		insperEvents: insperEvents,
		googleEvents: googleEvents,
		mappings:     mappings,
		formatter:    formatter,
		logger:       logger,
	}
}

// Reconcile runs the diff-and-apply pass, updating the session's counters
// in place. Per-event failures are absorbed into the failed counter; only
// context cancellation aborts the loop.
func (r *Reconciler) Reconcile(ctx context.Context, in ReconcileInput) error {
	// Join index: upstream id -> markered downstream event.
	existing := make(map[string]RemoteEvent, len(in.Downstream))
	for _, remote := range in.Downstream {
		if !remote.SyncedFromInsper() {
			continue
		}
		if id := remote.InsperEventID(); id != "" {
			existing[id] = remote
		}
	}

	// The sweep keys on the unfiltered set: an event hidden by a deny-list
	// still exists upstream and must not be treated as an orphan.
	upstreamIDs := make(map[string]struct{}, len(in.Upstream))
	for _, event := range in.Upstream {
		upstreamIDs[event.InsperEventID] = struct{}{}
	}

	for _, event := range in.Upstream {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !in.Config.ShouldSyncEventType(event.TipoEvento) || !in.Config.ShouldSyncDiscipline(event.DisciplinaCodigo) {
			continue
		}

		desired := r.formatter.Build(event, in.Config)
		if remote, ok := existing[event.InsperEventID]; ok {
			r.applyUpdate(ctx, in, event, remote, desired)
		} else {
			r.applyCreate(ctx, in, event, desired)
		}
	}

	return r.sweepOrphans(ctx, in, upstreamIDs)
}

func (r *Reconciler) applyCreate(ctx context.Context, in ReconcileInput, event *domain.InsperEvent, desired EventBody) {
	created, err := r.calendar.CreateEvent(ctx, in.UserID, in.CalendarID, desired)
	if err != nil {
		// No mapping is written: the next run retries the create.
		r.logger.Warn("event create failed",
			"user_id", in.UserID, "insper_event_id", event.InsperEventID, "error", err)
		in.Session.RecordFailed()
		return
	}

	mirror, err := r.upsertMirror(ctx, in, *created)
	if err != nil {
		r.logger.Warn("downstream mirror save failed",
			"user_id", in.UserID, "insper_event_id", event.InsperEventID, "error", err)
		in.Session.RecordFailed()
		return
	}
	r.saveMapping(ctx, in, event, mirror)
	in.Session.RecordCreated()
}

func (r *Reconciler) applyUpdate(ctx context.Context, in ReconcileInput, event *domain.InsperEvent, remote RemoteEvent, desired EventBody) {
	if !needsUpdate(desired, remote) {
		return
	}

	updated, err := r.calendar.UpdateEvent(ctx, in.UserID, in.CalendarID, remote.ID, desired)
	if err != nil {
		r.logger.Warn("event update failed",
			"user_id", in.UserID, "insper_event_id", event.InsperEventID, "error", err)
		in.Session.RecordFailed()
		return
	}

	mirror, err := r.upsertMirror(ctx, in, *updated)
	if err != nil {
		r.logger.Warn("downstream mirror save failed",
			"user_id", in.UserID, "insper_event_id", event.InsperEventID, "error", err)
		in.Session.RecordFailed()
		return
	}
	r.saveMapping(ctx, in, event, mirror)
	in.Session.RecordUpdated()
}

func (r *Reconciler) sweepOrphans(ctx context.Context, in ReconcileInput, upstreamIDs map[string]struct{}) error {
	for _, remote := range in.Downstream {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !remote.SyncedFromInsper() {
			continue
		}
		joinID := remote.InsperEventID()
		if joinID == "" {
			continue
		}
		if _, stillUpstream := upstreamIDs[joinID]; stillUpstream {
			continue
		}
		if window, covered := coveredByFailedWindow(remote.Start, in.FailedWindows); covered {
			r.logger.Warn("orphan sweep skipped: scrape window failed",
				"user_id", in.UserID, "insper_event_id", joinID,
				"window_start", window.Start, "window_end", window.End)
			continue
		}

		if err := r.calendar.DeleteEvent(ctx, in.UserID, in.CalendarID, remote.ID); err != nil {
			// Delete failures don't count against the session: the event
			// will be swept again next run.
			r.logger.Warn("orphan delete failed",
				"user_id", in.UserID, "insper_event_id", joinID, "error", err)
			continue
		}

		r.deactivateMirror(ctx, in, remote)
		in.Session.RecordDeleted()
	}
	return nil
}

func (r *Reconciler) upsertMirror(ctx context.Context, in ReconcileInput, remote RemoteEvent) (*domain.GoogleEvent, error) {
	mirror, err := r.googleEvents.FindByUserAndGoogleID(ctx, in.UserID, remote.ID)
	if err != nil {
		return nil, err
	}
	if mirror == nil {
		mirror = domain.NewGoogleEvent(in.UserID, remote.ID, in.CalendarID)
	}
	mirror.GoogleCalendarID = in.CalendarID
	mirror.Title = remote.Summary
	mirror.Description = remote.Description
	mirror.StartDatetime = remote.Start
	mirror.EndDatetime = remote.End
	mirror.AllDay = remote.AllDay
	mirror.Location = remote.Location
	mirror.HTMLLink = remote.HTMLLink
	mirror.SyncedFromInsper = true
	mirror.IsActive = true
	mirror.RawData = remote.Raw
	mirror.MarkSynced(time.Now())

	if err := r.googleEvents.Save(ctx, mirror); err != nil {
		return nil, err
	}
	return mirror, nil
}

func (r *Reconciler) deactivateMirror(ctx context.Context, in ReconcileInput, remote RemoteEvent) {
	mirror, err := r.googleEvents.FindByUserAndGoogleID(ctx, in.UserID, remote.ID)
	if err != nil || mirror == nil {
		return
	}
	mirror.IsActive = false
	mirror.Touch()
	if err := r.googleEvents.Save(ctx, mirror); err != nil {
		r.logger.Warn("mirror deactivate failed", "google_event_id", remote.ID, "error", err)
		return
	}

	// The upstream mirror usually outlives the scrape range, so the
	// mapping is resolved through it rather than through the input set.
	upstream, err := r.insperEvents.FindByUserAndInsperID(ctx, in.UserID, remote.InsperEventID())
	if err != nil || upstream == nil {
		return
	}
	mapping, err := r.mappings.FindByInsperEventID(ctx, upstream.ID)
	if err != nil || mapping == nil {
		return
	}
	sessionID := in.Session.ID()
	mapping.MarkDeleted(&sessionID)
	if err := r.mappings.Save(ctx, mapping); err != nil {
		r.logger.Warn("mapping delete-mark failed", "google_event_id", remote.ID, "error", err)
	}
}

func (r *Reconciler) saveMapping(ctx context.Context, in ReconcileInput, event *domain.InsperEvent, mirror *domain.GoogleEvent) {
	mapping, err := r.mappings.FindByInsperEventID(ctx, event.ID)
	if err != nil {
		r.logger.Warn("mapping lookup failed", "insper_event_id", event.InsperEventID, "error", err)
		return
	}
	sessionID := in.Session.ID()
	if mapping == nil {
		mapping = domain.NewEventMapping(event.ID, mirror.ID, &sessionID)
	}
	mapping.MarkSynced(time.Now(), &sessionID)
	if err := r.mappings.Save(ctx, mapping); err != nil {
		r.logger.Warn("mapping save failed", "insper_event_id", event.InsperEventID, "error", err)
	}
}

// needsUpdate is the authoritative change test: summary, description body
// (footer excluded), start/end, and the all-day shape.
func needsUpdate(desired EventBody, existing RemoteEvent) bool {
	if desired.Summary != existing.Summary {
		return true
	}
	if DescriptionBody(desired.Description) != DescriptionBody(existing.Description) {
		return true
	}
	if desired.AllDay != existing.AllDay {
		return true
	}
	if desired.AllDay {
		return desired.Start.Format("2006-01-02") != existing.Start.Format("2006-01-02") ||
			desired.End.Format("2006-01-02") != existing.End.Format("2006-01-02")
	}
	return !desired.Start.Equal(existing.Start) || !desired.End.Equal(existing.End)
}

func coveredByFailedWindow(at time.Time, windows []portal.Window) (portal.Window, bool) {
	for _, window := range windows {
		if window.Contains(at) {
			return window, true
		}
	}
	return portal.Window{}, false
}
