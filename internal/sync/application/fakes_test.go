package application

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	identityDomain "github.com/inspersync/inspersync/internal/identity/domain"
	"github.com/inspersync/inspersync/internal/portal"
	"github.com/inspersync/inspersync/internal/sync/domain"
)

type memInsperEvents struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*domain.InsperEvent
}

func newMemInsperEvents() *memInsperEvents {
	return &memInsperEvents{rows: map[uuid.UUID]*domain.InsperEvent{}}
}

func (r *memInsperEvents) Save(_ context.Context, event *domain.InsperEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	event.ContentHash = event.ComputeContentHash()
	r.rows[event.ID] = event
	return nil
}

func (r *memInsperEvents) FindByID(_ context.Context, id uuid.UUID) (*domain.InsperEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rows[id], nil
}

func (r *memInsperEvents) FindByUserAndInsperID(_ context.Context, userID uuid.UUID, insperEventID string) (*domain.InsperEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.UserID == userID && row.InsperEventID == insperEventID {
			return row, nil
		}
	}
	return nil, nil
}

func (r *memInsperEvents) FindActiveByUser(_ context.Context, userID uuid.UUID) ([]*domain.InsperEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.InsperEvent
	for _, row := range r.rows {
		if row.UserID == userID && row.IsActive {
			out = append(out, row)
		}
	}
	return out, nil
}

func (r *memInsperEvents) FindByUserInRange(_ context.Context, userID uuid.UUID, start, end time.Time) ([]*domain.InsperEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.InsperEvent
	for _, row := range r.rows {
		if row.UserID == userID && !row.StartDatetime.Before(start) && row.StartDatetime.Before(end) {
			out = append(out, row)
		}
	}
	return out, nil
}

func (r *memInsperEvents) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rows, id)
	return nil
}

type memGoogleEvents struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*domain.GoogleEvent
}

func newMemGoogleEvents() *memGoogleEvents {
	return &memGoogleEvents{rows: map[uuid.UUID]*domain.GoogleEvent{}}
}

func (r *memGoogleEvents) Save(_ context.Context, event *domain.GoogleEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	event.ContentHash = event.ComputeContentHash()
	r.rows[event.ID] = event
	return nil
}

func (r *memGoogleEvents) FindByID(_ context.Context, id uuid.UUID) (*domain.GoogleEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rows[id], nil
}

func (r *memGoogleEvents) FindByUserAndGoogleID(_ context.Context, userID uuid.UUID, googleEventID string) (*domain.GoogleEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.UserID == userID && row.GoogleEventID == googleEventID {
			return row, nil
		}
	}
	return nil, nil
}

func (r *memGoogleEvents) FindActiveByUser(_ context.Context, userID uuid.UUID) ([]*domain.GoogleEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.GoogleEvent
	for _, row := range r.rows {
		if row.UserID == userID && row.IsActive {
			out = append(out, row)
		}
	}
	return out, nil
}

func (r *memGoogleEvents) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rows, id)
	return nil
}

type memMappings struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*domain.EventMapping
}

func newMemMappings() *memMappings {
	return &memMappings{rows: map[uuid.UUID]*domain.EventMapping{}}
}

func (r *memMappings) Save(_ context.Context, mapping *domain.EventMapping) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[mapping.ID()] = mapping
	return nil
}

func (r *memMappings) FindByInsperEventID(_ context.Context, insperEventID uuid.UUID) (*domain.EventMapping, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.InsperEventID() == insperEventID {
			return row, nil
		}
	}
	return nil, nil
}

func (r *memMappings) FindByUser(_ context.Context, _ uuid.UUID) ([]*domain.EventMapping, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.EventMapping
	for _, row := range r.rows {
		out = append(out, row)
	}
	return out, nil
}

func (r *memMappings) FindNeedingReview(_ context.Context, _ uuid.UUID) ([]*domain.EventMapping, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.EventMapping
	for _, row := range r.rows {
		if row.NeedsManualReview() {
			out = append(out, row)
		}
	}
	return out, nil
}

func (r *memMappings) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rows, id)
	return nil
}

type memSessions struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*domain.SyncSession
}

func newMemSessions() *memSessions {
	return &memSessions{rows: map[uuid.UUID]*domain.SyncSession{}}
}

func (r *memSessions) Save(_ context.Context, session *domain.SyncSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[session.ID()] = session
	return nil
}

func (r *memSessions) FindByID(_ context.Context, id uuid.UUID) (*domain.SyncSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rows[id], nil
}

func (r *memSessions) FindRunningSince(_ context.Context, userID uuid.UUID, since time.Time) ([]*domain.SyncSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.SyncSession
	for _, row := range r.rows {
		if row.UserID() == userID && row.Running() && row.StartedAt().After(since) {
			out = append(out, row)
		}
	}
	return out, nil
}

func (r *memSessions) ListRecent(_ context.Context, userID uuid.UUID, limit int) ([]*domain.SyncSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.SyncSession
	for _, row := range r.rows {
		if row.UserID() == userID {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt().After(out[j].StartedAt()) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memSessions) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var deleted int64
	for id, row := range r.rows {
		if row.StartedAt().Before(cutoff) {
			delete(r.rows, id)
			deleted++
		}
	}
	return deleted, nil
}

type memConfigs struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*domain.SyncConfiguration
}

func newMemConfigs() *memConfigs {
	return &memConfigs{rows: map[uuid.UUID]*domain.SyncConfiguration{}}
}

func (r *memConfigs) Save(_ context.Context, config *domain.SyncConfiguration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[config.UserID()] = config
	return nil
}

func (r *memConfigs) FindByUserID(_ context.Context, userID uuid.UUID) (*domain.SyncConfiguration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rows[userID], nil
}

func (r *memConfigs) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for userID, row := range r.rows {
		if row.ID() == id {
			delete(r.rows, userID)
		}
	}
	return nil
}

type memUsers struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*identityDomain.User
}

func newMemUsers() *memUsers {
	return &memUsers{rows: map[uuid.UUID]*identityDomain.User{}}
}

func (r *memUsers) Save(_ context.Context, user *identityDomain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[user.ID()] = user
	return nil
}

func (r *memUsers) FindByID(_ context.Context, id uuid.UUID) (*identityDomain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rows[id], nil
}

func (r *memUsers) FindByEmail(_ context.Context, email string) (*identityDomain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.Email() == email {
			return row, nil
		}
	}
	return nil, nil
}

func (r *memUsers) FindAll(_ context.Context) ([]*identityDomain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*identityDomain.User
	for _, row := range r.rows {
		out = append(out, row)
	}
	return out, nil
}

func (r *memUsers) FindAllSyncable(ctx context.Context) ([]*identityDomain.User, error) {
	all, _ := r.FindAll(ctx)
	var out []*identityDomain.User
	for _, row := range all {
		if row.CanSync() {
			out = append(out, row)
		}
	}
	return out, nil
}

func (r *memUsers) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rows, id)
	return nil
}

// fakeCalendar records every gateway call and can be primed to fail
// specific events.
type fakeCalendar struct {
	mu sync.Mutex

	calendarID string
	listResult []RemoteEvent

	calendarNames []string
	listCalls     int
	created       []EventBody
	updated       map[string]EventBody
	deleted       []string

	failCreateFor map[string]error // keyed by insper_event_id property
	failUpdateFor map[string]error // keyed by downstream event id
	failDeleteFor map[string]error // keyed by downstream event id

	nextID int
}

func newFakeCalendar(calendarID string) *fakeCalendar {
	return &fakeCalendar{
		calendarID:    calendarID,
		updated:       map[string]EventBody{},
		failCreateFor: map[string]error{},
		failUpdateFor: map[string]error{},
		failDeleteFor: map[string]error{},
	}
}

func (c *fakeCalendar) FindOrCreateCalendar(_ context.Context, _ uuid.UUID, name string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calendarNames = append(c.calendarNames, name)
	return c.calendarID, nil
}

func (c *fakeCalendar) ListEvents(_ context.Context, _ uuid.UUID, _ string, _, _ time.Time) ([]RemoteEvent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listCalls++
	return c.listResult, nil
}

func (c *fakeCalendar) CreateEvent(_ context.Context, _ uuid.UUID, _ string, body EventBody) (*RemoteEvent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.failCreateFor[body.PrivateProperties[PropInsperEventID]]; err != nil {
		return nil, err
	}
	c.created = append(c.created, body)
	c.nextID++
	remote := remoteFromBody(fmt.Sprintf("g-%d", c.nextID), body)
	return &remote, nil
}

func (c *fakeCalendar) UpdateEvent(_ context.Context, _ uuid.UUID, _ string, eventID string, body EventBody) (*RemoteEvent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.failUpdateFor[eventID]; err != nil {
		return nil, err
	}
	c.updated[eventID] = body
	remote := remoteFromBody(eventID, body)
	return &remote, nil
}

func (c *fakeCalendar) DeleteEvent(_ context.Context, _ uuid.UUID, _ string, eventID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.failDeleteFor[eventID]; err != nil {
		return err
	}
	c.deleted = append(c.deleted, eventID)
	return nil
}

func remoteFromBody(id string, body EventBody) RemoteEvent {
	props := make(map[string]string, len(body.PrivateProperties))
	for k, v := range body.PrivateProperties {
		props[k] = v
	}
	return RemoteEvent{
		ID:                id,
		Summary:           body.Summary,
		Description:       body.Description,
		Location:          body.Location,
		Status:            "confirmed",
		Start:             body.Start,
		End:               body.End,
		AllDay:            body.AllDay,
		PrivateProperties: props,
	}
}

type portalCall struct {
	username   string
	ciphertext string
	start, end time.Time
}

type fakePortal struct {
	mu      sync.Mutex
	events  []portal.Event
	windows []portal.Window
	err     error
	calls   []portalCall
}

func (p *fakePortal) FetchEvents(_ context.Context, username, ciphertext string, start, end time.Time) ([]portal.Event, []portal.Window, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, portalCall{username: username, ciphertext: ciphertext, start: start, end: end})
	if p.err != nil {
		return nil, nil, p.err
	}
	return p.events, p.windows, nil
}

type capturedPublish struct {
	routingKey string
	payload    []byte
}

type fakePublisher struct {
	mu        sync.Mutex
	published []capturedPublish
}

func (p *fakePublisher) Publish(_ context.Context, routingKey string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, capturedPublish{routingKey: routingKey, payload: payload})
	return nil
}

func (p *fakePublisher) Close() error { return nil }
