// Package google implements the downstream calendar gateway against the
// Google Calendar v3 REST API.
package google

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	syncApp "github.com/inspersync/inspersync/internal/sync/application"
	"golang.org/x/oauth2"
)

const defaultBaseURL = "https://www.googleapis.com/calendar/v3"

// listPageSize is the Calendar API maximum.
const listPageSize = 2500

const calendarTimezone = "America/Sao_Paulo"

const calendarDescription = "Eventos acadêmicos sincronizados automaticamente do portal Insper."

type tokenSourceProvider interface {
	TokenSource(ctx context.Context, userID uuid.UUID) oauth2.TokenSource
}

// Client talks to the Google Calendar API on behalf of one user at a time,
// resolving OAuth tokens through the identity module's token source.
type Client struct {
	oauthService tokenSourceProvider
	logger       *slog.Logger
	baseURL      string
}

// NewClient creates a calendar client.
func NewClient(oauthService tokenSourceProvider, logger *slog.Logger) *Client {
	return NewClientWithBaseURL(oauthService, logger, "")
}

// NewClientWithBaseURL creates a calendar client against a custom endpoint.
func NewClientWithBaseURL(oauthService tokenSourceProvider, logger *slog.Logger, baseURL string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		oauthService: oauthService,
		logger:       logger,
		baseURL:      baseURL,
	}
}

func (c *Client) httpClient(ctx context.Context, userID uuid.UUID) *http.Client {
	return &http.Client{
		Timeout: 15 * time.Second,
		Transport: &oauthTransport{
			base:   http.DefaultTransport,
			source: c.oauthService.TokenSource(ctx, userID),
		},
	}
}

// FindOrCreateCalendar returns the ID of the user's calendar with the given
// name, creating it when absent. Name matching is case-insensitive on the
// trimmed summary.
func (c *Client) FindOrCreateCalendar(ctx context.Context, userID uuid.UUID, name string) (string, error) {
	client := c.httpClient(ctx, userID)

	listURL := c.baseURL + "/users/me/calendarList"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, listURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", responseError(resp)
	}

	var payload struct {
		Items []struct {
			ID      string `json:"id"`
			Summary string `json:"summary"`
		} `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", err
	}

	want := strings.ToLower(strings.TrimSpace(name))
	for _, item := range payload.Items {
		if strings.ToLower(strings.TrimSpace(item.Summary)) == want {
			return item.ID, nil
		}
	}

	return c.createCalendar(ctx, client, name)
}

func (c *Client) createCalendar(ctx context.Context, client *http.Client, name string) (string, error) {
	body, err := json.Marshal(map[string]string{
		"summary":     name,
		"timeZone":    calendarTimezone,
		"description": calendarDescription,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/calendars", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", responseError(resp)
	}

	var created struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return "", err
	}
	c.logger.Info("calendar created", "calendar_id", created.ID, "name", name)
	return created.ID, nil
}

// ListEvents returns single (expanded) events in the window, ordered by
// start time, following nextPageToken pagination.
func (c *Client) ListEvents(ctx context.Context, userID uuid.UUID, calendarID string, start, end time.Time) ([]syncApp.RemoteEvent, error) {
	client := c.httpClient(ctx, userID)

	var events []syncApp.RemoteEvent
	pageToken := ""
	for {
		query := url.Values{}
		query.Set("timeMin", start.UTC().Format(time.RFC3339))
		query.Set("timeMax", end.UTC().Format(time.RFC3339))
		query.Set("singleEvents", "true")
		query.Set("orderBy", "startTime")
		query.Set("maxResults", fmt.Sprint(listPageSize))
		if pageToken != "" {
			query.Set("pageToken", pageToken)
		}

		listURL := fmt.Sprintf("%s/calendars/%s/events?%s", c.baseURL, url.PathEscape(calendarID), query.Encode())
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, listURL, nil)
		if err != nil {
			return nil, err
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, err
		}
		page, next, err := decodeEventPage(resp)
		if err != nil {
			return nil, err
		}
		events = append(events, page...)
		if next == "" {
			return events, nil
		}
		pageToken = next
	}
}

// CreateEvent inserts a new event and returns the stored representation.
func (c *Client) CreateEvent(ctx context.Context, userID uuid.UUID, calendarID string, body syncApp.EventBody) (*syncApp.RemoteEvent, error) {
	payload, err := json.Marshal(toWireEvent(body))
	if err != nil {
		return nil, err
	}

	insertURL := fmt.Sprintf("%s/calendars/%s/events", c.baseURL, url.PathEscape(calendarID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, insertURL, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient(ctx, userID).Do(req)
	if err != nil {
		return nil, err
	}
	return decodeEvent(resp)
}

// UpdateEvent replaces an existing event and returns the stored
// representation.
func (c *Client) UpdateEvent(ctx context.Context, userID uuid.UUID, calendarID, eventID string, body syncApp.EventBody) (*syncApp.RemoteEvent, error) {
	payload, err := json.Marshal(toWireEvent(body))
	if err != nil {
		return nil, err
	}

	updateURL := fmt.Sprintf("%s/calendars/%s/events/%s", c.baseURL, url.PathEscape(calendarID), url.PathEscape(eventID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, updateURL, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient(ctx, userID).Do(req)
	if err != nil {
		return nil, err
	}
	return decodeEvent(resp)
}

// DeleteEvent removes an event. The API answers 204 on success; 404 and 410
// count as success because the event is already gone.
func (c *Client) DeleteEvent(ctx context.Context, userID uuid.UUID, calendarID, eventID string) error {
	deleteURL := fmt.Sprintf("%s/calendars/%s/events/%s", c.baseURL, url.PathEscape(calendarID), url.PathEscape(eventID))
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, deleteURL, nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient(ctx, userID).Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return nil
	default:
		return responseError(resp)
	}
}

type wireDateTime struct {
	DateTime string `json:"dateTime,omitempty"`
	Date     string `json:"date,omitempty"`
	TimeZone string `json:"timeZone,omitempty"`
}

type wireEvent struct {
	Summary            string       `json:"summary"`
	Description        string       `json:"description,omitempty"`
	Location           string       `json:"location,omitempty"`
	Start              wireDateTime `json:"start"`
	End                wireDateTime `json:"end"`
	ExtendedProperties *struct {
		Private map[string]string `json:"private,omitempty"`
	} `json:"extendedProperties,omitempty"`
	Source *struct {
		Title string `json:"title,omitempty"`
		URL   string `json:"url,omitempty"`
	} `json:"source,omitempty"`
}

func toWireEvent(body syncApp.EventBody) wireEvent {
	event := wireEvent{
		Summary:     body.Summary,
		Description: body.Description,
		Location:    body.Location,
	}
	if body.AllDay {
		event.Start = wireDateTime{Date: body.Start.Format("2006-01-02")}
		event.End = wireDateTime{Date: body.End.Format("2006-01-02")}
	} else {
		event.Start = wireDateTime{DateTime: body.Start.Format(time.RFC3339), TimeZone: body.Timezone}
		event.End = wireDateTime{DateTime: body.End.Format(time.RFC3339), TimeZone: body.Timezone}
	}
	if len(body.PrivateProperties) > 0 {
		event.ExtendedProperties = &struct {
			Private map[string]string `json:"private,omitempty"`
		}{Private: body.PrivateProperties}
	}
	if body.SourceTitle != "" || body.SourceURL != "" {
		event.Source = &struct {
			Title string `json:"title,omitempty"`
			URL   string `json:"url,omitempty"`
		}{Title: body.SourceTitle, URL: body.SourceURL}
	}
	return event
}

type wireEventResponse struct {
	ID                 string       `json:"id"`
	Status             string       `json:"status"`
	Summary            string       `json:"summary"`
	Description        string       `json:"description"`
	Location           string       `json:"location"`
	HTMLLink           string       `json:"htmlLink"`
	Start              wireDateTime `json:"start"`
	End                wireDateTime `json:"end"`
	ExtendedProperties struct {
		Private map[string]string `json:"private"`
	} `json:"extendedProperties"`
}

func decodeEvent(resp *http.Response) (*syncApp.RemoteEvent, error) {
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, responseError(resp)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var item wireEventResponse
	if err := json.Unmarshal(raw, &item); err != nil {
		return nil, err
	}
	event, err := fromWireEvent(item, raw)
	if err != nil {
		return nil, err
	}
	return &event, nil
}

func decodeEventPage(resp *http.Response) ([]syncApp.RemoteEvent, string, error) {
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", responseError(resp)
	}

	var payload struct {
		NextPageToken string            `json:"nextPageToken"`
		Items         []json.RawMessage `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, "", err
	}

	events := make([]syncApp.RemoteEvent, 0, len(payload.Items))
	for _, raw := range payload.Items {
		var item wireEventResponse
		if err := json.Unmarshal(raw, &item); err != nil {
			return nil, "", err
		}
		if item.Status == "cancelled" {
			continue
		}
		event, err := fromWireEvent(item, raw)
		if err != nil {
			// Events without parseable times are skipped, not fatal.
			continue
		}
		events = append(events, event)
	}
	return events, payload.NextPageToken, nil
}

func fromWireEvent(item wireEventResponse, raw json.RawMessage) (syncApp.RemoteEvent, error) {
	event := syncApp.RemoteEvent{
		ID:                item.ID,
		Summary:           item.Summary,
		Description:       item.Description,
		Location:          item.Location,
		Status:            item.Status,
		HTMLLink:          item.HTMLLink,
		PrivateProperties: item.ExtendedProperties.Private,
		Raw:               raw,
	}

	switch {
	case item.Start.DateTime != "" && item.End.DateTime != "":
		start, err := time.Parse(time.RFC3339, item.Start.DateTime)
		if err != nil {
			return event, err
		}
		end, err := time.Parse(time.RFC3339, item.End.DateTime)
		if err != nil {
			return event, err
		}
		event.Start = start
		event.End = end
	case item.Start.Date != "" && item.End.Date != "":
		start, err := time.Parse("2006-01-02", item.Start.Date)
		if err != nil {
			return event, err
		}
		end, err := time.Parse("2006-01-02", item.End.Date)
		if err != nil {
			return event, err
		}
		event.Start = start
		event.End = end
		event.AllDay = true
	default:
		return event, fmt.Errorf("event %s has no usable start/end", item.ID)
	}
	return event, nil
}

func responseError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	return fmt.Errorf("google calendar: status=%d body=%s", resp.StatusCode, string(body))
}

type oauthTransport struct {
	base   http.RoundTripper
	source oauth2.TokenSource
}

func (t *oauthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	token, err := t.source.Token()
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)
	return t.base.RoundTrip(req)
}
