package application

import (
	"strings"
	"time"

	"github.com/inspersync/inspersync/internal/portal"
	"github.com/inspersync/inspersync/internal/sync/domain"
)

const (
	titlePrefix     = "[Insper] "
	footerSeparator = "---"
	footerSyncedBy  = "Sincronizado automaticamente via Insper Sync"

	sourceTitle = "Insper Sync"
)

// Formatter builds the desired downstream payload for an upstream event
// under a user's configuration.
type Formatter struct {
	sourceURL string
	now       func() time.Time
}

// NewFormatter creates a formatter. sourceURL is the portal domain stamped
// into the calendar event's source block.
func NewFormatter(sourceURL string) *Formatter {
	return &Formatter{
		sourceURL: sourceURL,
		now:       time.Now,
	}
}

// Build renders the payload the calendar should hold for this event.
func (f *Formatter) Build(event *domain.InsperEvent, config *domain.SyncConfiguration) EventBody {
	loc := portal.SaoPaulo()

	body := EventBody{
		Summary:     f.summary(event, config),
		Description: f.description(event, config),
		Location:    event.Dependencia,
		Start:       event.StartDatetime.In(loc),
		End:         event.EndDatetime.In(loc),
		AllDay:      event.AllDay,
		Timezone:    event.Timezone,
		SourceTitle: sourceTitle,
		SourceURL:   f.sourceURL,
	}

	props := map[string]string{
		PropInsperEventID: event.InsperEventID,
		PropSyncSource:    SyncSourceValue,
	}
	if event.DisciplinaCodigo != "" {
		props[PropDisciplinaCodigo] = event.DisciplinaCodigo
	}
	if event.Docente != "" {
		props[PropDocente] = event.Docente
	}
	if event.Turma != "" {
		props[PropTurma] = event.Turma
	}
	body.PrivateProperties = props

	return body
}

func (f *Formatter) summary(event *domain.InsperEvent, config *domain.SyncConfiguration) string {
	title := firstLine(event.Title)
	if config.AddInsperPrefix() {
		return titlePrefix + title
	}
	return title
}

func (f *Formatter) description(event *domain.InsperEvent, config *domain.SyncConfiguration) string {
	var parts []string
	if event.Description != "" {
		parts = append(parts, event.Description)
	}
	if config.IncludeDisciplineCode() && event.DisciplinaCodigo != "" {
		parts = append(parts, "Código da disciplina: "+event.DisciplinaCodigo)
	}
	if event.Docente != "" {
		parts = append(parts, "Docente: "+event.Docente)
	}
	if event.Turma != "" {
		parts = append(parts, "Turma: "+event.Turma)
	}
	if event.Dependencia != "" {
		parts = append(parts, "Local: "+event.Dependencia)
	}
	parts = append(parts,
		footerSeparator,
		footerSyncedBy,
		"Última atualização: "+f.now().In(portal.SaoPaulo()).Format("02/01/2006 15:04"),
	)
	return strings.Join(parts, "\n")
}

// DescriptionBody returns the description with the generated footer
// stripped: everything from the separator line on changes every run and
// must not participate in change detection.
func DescriptionBody(description string) string {
	if idx := strings.Index(description, "\n"+footerSeparator); idx >= 0 {
		return description[:idx]
	}
	if strings.HasPrefix(description, footerSeparator) {
		return ""
	}
	return description
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return strings.TrimSpace(s[:idx])
	}
	return strings.TrimSpace(s)
}
