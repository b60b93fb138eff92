package cli

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/inspersync/inspersync/internal/portal"
	"github.com/spf13/cobra"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Look at the portal schedule without syncing",
}

var scheduleTodayEmail string

var scheduleTodayCmd = &cobra.Command{
	Use:   "today",
	Short: "Show today's portal events",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := requireApp()
		if err != nil {
			return err
		}
		user, err := requireUser(cmd.Context(), a, scheduleTodayEmail)
		if err != nil {
			return err
		}
		if user.PortalUsername() == "" {
			return errors.New("portal credentials not configured")
		}

		tz := portal.SaoPaulo()
		now := time.Now().In(tz)
		start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, tz)
		end := start.AddDate(0, 0, 1)

		events, failed, err := a.Portal.FetchEvents(cmd.Context(), user.PortalUsername(), user.PortalPasswordCiphertext(), start, end)
		if err != nil {
			return err
		}
		for _, window := range failed {
			fmt.Printf("Warning: could not load %s - %s\n",
				window.Start.Format("2006-01-02"), window.End.Format("2006-01-02"))
		}

		printEvents(filterRange(events, start, end), tz)
		return nil
	},
}

var scheduleWeekEmail string

var scheduleWeekCmd = &cobra.Command{
	Use:   "week",
	Short: "Show this week's portal events",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := requireApp()
		if err != nil {
			return err
		}
		user, err := requireUser(cmd.Context(), a, scheduleWeekEmail)
		if err != nil {
			return err
		}
		if user.PortalUsername() == "" {
			return errors.New("portal credentials not configured")
		}

		tz := portal.SaoPaulo()
		events, err := a.Portal.FetchWeek(cmd.Context(), user.PortalUsername(), user.PortalPasswordCiphertext(), time.Now().In(tz))
		if err != nil {
			return err
		}

		printEvents(events, tz)
		return nil
	},
}

func filterRange(events []portal.Event, start, end time.Time) []portal.Event {
	filtered := events[:0:0]
	for _, event := range events {
		if !event.Start.Before(start) && event.Start.Before(end) {
			filtered = append(filtered, event)
		}
	}
	return filtered
}

func printEvents(events []portal.Event, tz *time.Location) {
	if len(events) == 0 {
		fmt.Println("No events.")
		return
	}

	sort.Slice(events, func(i, j int) bool {
		return events[i].Start.Before(events[j].Start)
	})

	var day string
	for _, event := range events {
		eventDay := event.Start.In(tz).Format("Mon 02/01")
		if eventDay != day {
			day = eventDay
			fmt.Printf("\n%s\n", day)
		}
		window := fmt.Sprintf("%s-%s",
			event.Start.In(tz).Format("15:04"), event.End.In(tz).Format("15:04"))
		if event.AllDay {
			window = "all day    "
		}
		line := fmt.Sprintf("  %s  %s", window, firstTitleLine(event.Title))
		if event.Location != "" {
			line += "  @ " + event.Location
		}
		fmt.Println(line)
	}
}

func firstTitleLine(title string) string {
	for i, r := range title {
		if r == '\n' {
			return title[:i]
		}
	}
	return title
}

func init() {
	scheduleTodayCmd.Flags().StringVar(&scheduleTodayEmail, "email", "", "account email")
	scheduleWeekCmd.Flags().StringVar(&scheduleWeekEmail, "email", "", "account email")

	scheduleCmd.AddCommand(scheduleTodayCmd)
	scheduleCmd.AddCommand(scheduleWeekCmd)
	rootCmd.AddCommand(scheduleCmd)
}
