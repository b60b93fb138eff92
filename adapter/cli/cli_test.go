package cli

import (
	"testing"
	"time"

	"github.com/inspersync/inspersync/internal/portal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDateFlag(t *testing.T) {
	parsed, err := parseDateFlag("2024-03-04")
	require.NoError(t, err)
	require.NotNil(t, parsed)
	assert.Equal(t, time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC), *parsed)

	parsed, err = parseDateFlag("")
	require.NoError(t, err)
	assert.Nil(t, parsed)

	_, err = parseDateFlag("04/03/2024")
	assert.Error(t, err)
}

func TestFilterRange(t *testing.T) {
	tz := portal.SaoPaulo()
	start := time.Date(2024, 3, 4, 0, 0, 0, 0, tz)
	end := start.AddDate(0, 0, 1)

	events := []portal.Event{
		{InsperEventID: "before", Start: start.Add(-time.Hour)},
		{InsperEventID: "inside", Start: start.Add(13 * time.Hour)},
		{InsperEventID: "at-end", Start: end},
	}

	filtered := filterRange(events, start, end)
	require.Len(t, filtered, 1)
	assert.Equal(t, "inside", filtered[0].InsperEventID)
}

func TestFirstTitleLine(t *testing.T) {
	assert.Equal(t, "Microeconomia I", firstTitleLine("Microeconomia I\nECON101"))
	assert.Equal(t, "Prova", firstTitleLine("Prova"))
}

func TestRootCommandWiring(t *testing.T) {
	names := map[string]bool{}
	for _, cmd := range rootCmd.Commands() {
		names[cmd.Name()] = true
	}
	for _, expected := range []string{"user", "credentials", "auth", "sync", "schedule", "version"} {
		assert.True(t, names[expected], "missing command %s", expected)
	}
}
