package portal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const (
	// scrapeDateLayout is the portal's query-parameter date contract: a
	// literal -03:00 offset regardless of DST.
	scrapeDateLayout = "2006-01-02T15:04:05.000-03:00"

	// unknownLocation is the portal's own placeholder for a missing room.
	unknownLocation = "NÃO INFORMADA"

	// SaoPauloTZ is the timezone all portal timestamps are materialised in.
	SaoPauloTZ = "America/Sao_Paulo"
)

var (
	saoPauloOnce sync.Once
	saoPauloLoc  *time.Location
)

// SaoPaulo returns the America/Sao_Paulo location, falling back to a fixed
// -03:00 zone when the tzdata is unavailable.
func SaoPaulo() *time.Location {
	saoPauloOnce.Do(func() {
		loc, err := time.LoadLocation(SaoPauloTZ)
		if err != nil {
			loc = time.FixedZone("-03", -3*60*60)
		}
		saoPauloLoc = loc
	})
	return saoPauloLoc
}

// Event is a normalised portal calendar event.
type Event struct {
	// InsperEventID is the identity key across scrapes. It comes from the
	// eventId field; the id field may be null for recurring instances.
	InsperEventID string
	InternalID    string

	Title       string
	Description string
	Start       time.Time
	End         time.Time
	AllDay      bool

	// Derived from free text in the payload.
	DisciplineCode string
	Instructor     string
	ClassGroup     string
	Location       string

	EventType string
	Timezone  string

	// Raw is the upstream JSON, kept opaque for the event mirror.
	Raw json.RawMessage
}

// Window is a scraped month window. Failed windows are reported so the
// orphan sweep can be gated on them.
type Window struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls inside the window (inclusive).
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

// flexString decodes a JSON string or number into a string, tolerating the
// portal's habit of switching between the two.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*f = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// wireEvent mirrors the portal's event JSON. Unknown fields are ignored.
type wireEvent struct {
	ID        flexString `json:"id"`
	EventID   flexString `json:"eventId"`
	Title     string     `json:"title"`
	AllDay    bool       `json:"allDay"`
	StartDate int64      `json:"startDate"`
	EndDate   int64      `json:"endDate"`
	TimeZone  string     `json:"timeZone"`
	Descricao string     `json:"descricao"`
	TipoEvento string    `json:"tipoEvento"`
	HoverInfo string     `json:"hoverInfo"`
}

type eventsEnvelope struct {
	Content []json.RawMessage `json:"content"`
}

// ScheduleClient pages the portal's one-month-at-a-time calendar endpoint
// and stitches the pages into an arbitrary range.
type ScheduleClient struct {
	session  *Session
	personID int64
	codAluno int64
	logger   *slog.Logger
}

// NewScheduleClient creates a schedule client for an authenticated session.
func NewScheduleClient(session *Session, profile *AcademicProfile, logger *slog.Logger) *ScheduleClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &ScheduleClient{
		session:  session,
		personID: profile.ID,
		codAluno: profile.CodAluno,
		logger:   logger,
	}
}

// EventsForRange returns all events whose start falls in [start, end],
// paging month by month. A failed month is logged and reported as a failed
// window; a partial range is preferred to a total failure.
func (c *ScheduleClient) EventsForRange(ctx context.Context, start, end time.Time) ([]Event, []Window, error) {
	loc := SaoPaulo()
	start = start.In(loc)
	end = end.In(loc)

	var (
		events []Event
		failed []Window
	)

	cursor := time.Date(start.Year(), start.Month(), 1, 0, 0, 0, 0, loc)
	for !cursor.After(end) {
		monthStart := cursor
		monthEnd := cursor.AddDate(0, 1, -1)

		monthly, err := c.eventsForMonth(ctx, monthStart, monthEnd)
		if err != nil {
			c.logger.Warn("month scrape failed",
				"month", monthStart.Format("2006-01"),
				"error", err,
			)
			failed = append(failed, Window{Start: monthStart, End: endOfDay(monthEnd)})
			cursor = cursor.AddDate(0, 1, 0)
			continue
		}

		for _, event := range monthly {
			if event.Start.Before(start) || event.Start.After(end) {
				continue
			}
			events = append(events, event)
		}
		cursor = cursor.AddDate(0, 1, 0)
	}

	return events, failed, nil
}

// EventsForDiscipline filters the range down to events whose discipline
// code contains the given fragment.
func (c *ScheduleClient) EventsForDiscipline(ctx context.Context, start, end time.Time, code string) ([]Event, []Window, error) {
	events, failed, err := c.EventsForRange(ctx, start, end)
	if err != nil {
		return nil, failed, err
	}
	var matched []Event
	for _, event := range events {
		if strings.Contains(event.DisciplineCode, code) {
			matched = append(matched, event)
		}
	}
	return matched, failed, nil
}

// EventsForInstructor filters the range down to events taught by the given
// instructor (case-insensitive contains).
func (c *ScheduleClient) EventsForInstructor(ctx context.Context, start, end time.Time, name string) ([]Event, []Window, error) {
	events, failed, err := c.EventsForRange(ctx, start, end)
	if err != nil {
		return nil, failed, err
	}
	needle := strings.ToLower(name)
	var matched []Event
	for _, event := range events {
		if strings.Contains(strings.ToLower(event.Instructor), needle) {
			matched = append(matched, event)
		}
	}
	return matched, failed, nil
}

// WeekSchedule returns the events from the given day through six days later.
func (c *ScheduleClient) WeekSchedule(ctx context.Context, from time.Time) ([]Event, []Window, error) {
	from = startOfDay(from.In(SaoPaulo()))
	return c.EventsForRange(ctx, from, endOfDay(from.AddDate(0, 0, 6)))
}

// TodayEvents returns today's events.
func (c *ScheduleClient) TodayEvents(ctx context.Context) ([]Event, []Window, error) {
	today := startOfDay(time.Now().In(SaoPaulo()))
	return c.EventsForRange(ctx, today, endOfDay(today))
}

func (c *ScheduleClient) eventsForMonth(ctx context.Context, monthStart, monthEnd time.Time) ([]Event, error) {
	query := url.Values{}
	query.Set("codAluno", fmt.Sprintf("%d", c.codAluno))
	query.Set("start", monthStart.Format(scrapeDateLayout))
	query.Set("end", monthEnd.Format(scrapeDateLayout))
	query.Set("page", "0")
	query.Set("size", "1000")
	query.Set("timezone", "false")

	path := fmt.Sprintf("/alunos/pessoa/%d/events?%s", c.personID, query.Encode())
	body, status, err := c.session.authedGet(ctx, path)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("events scrape: %w: status %d", ErrConnection, status)
	}

	var envelope eventsEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, connectionError("events decode", err)
	}

	events := make([]Event, 0, len(envelope.Content))
	for _, raw := range envelope.Content {
		event, err := normalizeEvent(raw)
		if err != nil {
			c.logger.Warn("event normalise failed", "error", err)
			continue
		}
		events = append(events, event)
	}
	return events, nil
}

// normalizeEvent maps the wire payload into the normalised Event, parsing
// the derived fields out of the portal's free-text columns.
func normalizeEvent(raw json.RawMessage) (Event, error) {
	var w wireEvent
	if err := json.Unmarshal(raw, &w); err != nil {
		return Event{}, err
	}
	if w.EventID == "" {
		return Event{}, fmt.Errorf("event without eventId")
	}

	loc := SaoPaulo()
	tz := w.TimeZone
	if tz == "" {
		tz = SaoPauloTZ
	}

	return Event{
		InsperEventID:  string(w.EventID),
		InternalID:     string(w.ID),
		Title:          w.Title,
		Description:    w.Descricao,
		Start:          time.UnixMilli(w.StartDate).In(loc),
		End:            time.UnixMilli(w.EndDate).In(loc),
		AllDay:         w.AllDay,
		DisciplineCode: disciplineFromTitle(w.Title),
		Instructor:     afterPrefix(w.HoverInfo, "Docente: "),
		ClassGroup:     classGroupFromDescription(w.Descricao),
		Location:       locationFromDescription(w.Descricao),
		EventType:      w.TipoEvento,
		Timezone:       tz,
		Raw:            raw,
	}, nil
}

// disciplineFromTitle extracts the discipline code from the second line of
// the title, when there is one.
func disciplineFromTitle(title string) string {
	lines := strings.Split(title, "\n")
	if len(lines) < 2 {
		return ""
	}
	return strings.TrimSpace(lines[1])
}

// afterPrefix returns the remainder of the first line containing the given
// prefix, or empty.
func afterPrefix(text, prefix string) string {
	idx := strings.Index(text, prefix)
	if idx < 0 {
		return ""
	}
	rest := text[idx+len(prefix):]
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		rest = rest[:nl]
	}
	return strings.TrimSpace(rest)
}

// classGroupFromDescription extracts the class group between "Turma: " and
// the next " |" delimiter. Without the delimiter there is no group.
func classGroupFromDescription(description string) string {
	idx := strings.Index(description, "Turma: ")
	if idx < 0 {
		return ""
	}
	rest := description[idx+len("Turma: "):]
	sep := strings.Index(rest, " |")
	if sep < 0 {
		return ""
	}
	return strings.TrimSpace(rest[:sep])
}

// locationFromDescription extracts the room after "Dependencia: ", falling
// back to the portal's own placeholder.
func locationFromDescription(description string) string {
	location := afterPrefix(description, "Dependencia: ")
	if location == "" {
		return unknownLocation
	}
	if sep := strings.Index(location, " |"); sep >= 0 {
		location = strings.TrimSpace(location[:sep])
	}
	return location
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func endOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, 0, t.Location())
}
