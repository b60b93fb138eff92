package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
	sharedDomain "github.com/inspersync/inspersync/internal/shared/domain"
)

// DefaultCalendarName is the calendar the engine creates when a user has
// not chosen one.
const DefaultCalendarName = "Insper Sync"

// DefaultSyncFrequencyHours is how often the scheduler considers a user
// due for a sync.
const DefaultSyncFrequencyHours = 6

// SyncConfiguration holds per-user sync preferences: cadence, filtering,
// and formatting options.
type SyncConfiguration struct {
	sharedDomain.BaseEntity

	userID uuid.UUID

	syncEnabled        bool
	syncFrequencyHours int

	syncAllEvents       bool
	excludedEventTypes  []string
	excludedDisciplines []string

	googleCalendarName string

	addInsperPrefix             bool
	includeTeacherInDescription bool
	includeDisciplineCode       bool

	lastSyncAttempt *time.Time
}

// NewSyncConfiguration creates a configuration with defaults.
func NewSyncConfiguration(userID uuid.UUID) *SyncConfiguration {
	return &SyncConfiguration{
		BaseEntity:                  sharedDomain.NewBaseEntity(),
		userID:                      userID,
		syncEnabled:                 true,
		syncFrequencyHours:          DefaultSyncFrequencyHours,
		syncAllEvents:               true,
		googleCalendarName:          DefaultCalendarName,
		addInsperPrefix:             true,
		includeTeacherInDescription: true,
		includeDisciplineCode:       true,
	}
}

// RehydrateSyncConfiguration recreates a configuration from persisted state.
func RehydrateSyncConfiguration(
	id uuid.UUID,
	userID uuid.UUID,
	syncEnabled bool,
	syncFrequencyHours int,
	syncAllEvents bool,
	excludedEventTypes, excludedDisciplines []string,
	googleCalendarName string,
	addInsperPrefix, includeTeacherInDescription, includeDisciplineCode bool,
	lastSyncAttempt *time.Time,
	createdAt, updatedAt time.Time,
) *SyncConfiguration {
	return &SyncConfiguration{
		BaseEntity:                  sharedDomain.RehydrateBaseEntity(id, createdAt, updatedAt),
		userID:                      userID,
		syncEnabled:                 syncEnabled,
		syncFrequencyHours:          syncFrequencyHours,
		syncAllEvents:               syncAllEvents,
		excludedEventTypes:          excludedEventTypes,
		excludedDisciplines:         excludedDisciplines,
		googleCalendarName:          googleCalendarName,
		addInsperPrefix:             addInsperPrefix,
		includeTeacherInDescription: includeTeacherInDescription,
		includeDisciplineCode:       includeDisciplineCode,
		lastSyncAttempt:             lastSyncAttempt,
	}
}

func (c *SyncConfiguration) UserID() uuid.UUID              { return c.userID }
func (c *SyncConfiguration) SyncEnabled() bool              { return c.syncEnabled }
func (c *SyncConfiguration) SyncFrequencyHours() int        { return c.syncFrequencyHours }
func (c *SyncConfiguration) SyncAllEvents() bool            { return c.syncAllEvents }
func (c *SyncConfiguration) ExcludedEventTypes() []string   { return c.excludedEventTypes }
func (c *SyncConfiguration) ExcludedDisciplines() []string  { return c.excludedDisciplines }
func (c *SyncConfiguration) GoogleCalendarName() string     { return c.googleCalendarName }
func (c *SyncConfiguration) AddInsperPrefix() bool          { return c.addInsperPrefix }
func (c *SyncConfiguration) IncludeTeacherInDescription() bool {
	return c.includeTeacherInDescription
}
func (c *SyncConfiguration) IncludeDisciplineCode() bool { return c.includeDisciplineCode }
func (c *SyncConfiguration) LastSyncAttempt() *time.Time { return c.lastSyncAttempt }

// Enable turns syncing on.
func (c *SyncConfiguration) Enable() {
	c.syncEnabled = true
	c.Touch()
}

// Disable turns syncing off.
func (c *SyncConfiguration) Disable() {
	c.syncEnabled = false
	c.Touch()
}

// SetFrequencyHours sets the scheduler cadence. Values below one hour are
// clamped to one.
func (c *SyncConfiguration) SetFrequencyHours(hours int) {
	if hours < 1 {
		hours = 1
	}
	c.syncFrequencyHours = hours
	c.Touch()
}

// SetCalendarName sets the target calendar name, falling back to the
// default when blank.
func (c *SyncConfiguration) SetCalendarName(name string) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultCalendarName
	}
	c.googleCalendarName = name
	c.Touch()
}

// SetFormatting updates the event formatting toggles.
func (c *SyncConfiguration) SetFormatting(addPrefix, includeTeacher, includeDiscipline bool) {
	c.addInsperPrefix = addPrefix
	c.includeTeacherInDescription = includeTeacher
	c.includeDisciplineCode = includeDiscipline
	c.Touch()
}

// ExcludeEventType adds an event type to the deny-list (idempotent).
func (c *SyncConfiguration) ExcludeEventType(eventType string) {
	eventType = strings.TrimSpace(eventType)
	if eventType == "" || containsFold(c.excludedEventTypes, eventType) {
		return
	}
	c.excludedEventTypes = append(c.excludedEventTypes, eventType)
	c.syncAllEvents = false
	c.Touch()
}

// ExcludeDiscipline adds a discipline code to the deny-list (idempotent).
func (c *SyncConfiguration) ExcludeDiscipline(code string) {
	code = strings.TrimSpace(code)
	if code == "" || containsFold(c.excludedDisciplines, code) {
		return
	}
	c.excludedDisciplines = append(c.excludedDisciplines, code)
	c.Touch()
}

// ClearExclusions empties both deny-lists.
func (c *SyncConfiguration) ClearExclusions() {
	c.excludedEventTypes = nil
	c.excludedDisciplines = nil
	c.syncAllEvents = true
	c.Touch()
}

// RecordSyncAttempt stamps the last time the scheduler picked this user up.
func (c *SyncConfiguration) RecordSyncAttempt(at time.Time) {
	t := at.UTC()
	c.lastSyncAttempt = &t
	c.Touch()
}

// ShouldSyncEventType reports whether an event of this type passes the
// deny-list. Matching is case-insensitive.
func (c *SyncConfiguration) ShouldSyncEventType(eventType string) bool {
	return !containsFold(c.excludedEventTypes, eventType)
}

// ShouldSyncDiscipline reports whether a discipline passes the deny-list.
func (c *SyncConfiguration) ShouldSyncDiscipline(code string) bool {
	return !containsFold(c.excludedDisciplines, code)
}

// DueAt returns the earliest time the next scheduled sync is due. A user
// never synced is due immediately.
func (c *SyncConfiguration) DueAt() time.Time {
	if c.lastSyncAttempt == nil {
		return time.Time{}
	}
	return c.lastSyncAttempt.Add(time.Duration(c.syncFrequencyHours) * time.Hour)
}

func containsFold(list []string, value string) bool {
	for _, item := range list {
		if strings.EqualFold(item, value) {
			return true
		}
	}
	return false
}
