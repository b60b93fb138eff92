package cli

import (
	"errors"
	"fmt"
	"strings"
	"time"

	syncDomain "github.com/inspersync/inspersync/internal/sync/domain"
	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Synchronize the portal schedule to Google Calendar",
}

var (
	syncRunEmail string
	syncRunStart string
	syncRunEnd   string
	syncRunQueue bool
)

var syncRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one sync now (or enqueue it with --queue)",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := requireApp()
		if err != nil {
			return err
		}
		if !a.SyncEnabled() {
			return errors.New("calendar sync not configured (missing google oauth settings)")
		}
		user, err := requireUser(cmd.Context(), a, syncRunEmail)
		if err != nil {
			return err
		}

		start, err := parseDateFlag(syncRunStart)
		if err != nil {
			return fmt.Errorf("invalid --start: %w", err)
		}
		end, err := parseDateFlag(syncRunEnd)
		if err != nil {
			return fmt.Errorf("invalid --end: %w", err)
		}

		if syncRunQueue {
			if err := a.Orchestrator.RequestSync(cmd.Context(), user.ID(), start, end); err != nil {
				return err
			}
			fmt.Println("Sync job enqueued.")
			return nil
		}

		outcome, err := a.Orchestrator.SyncUserCalendar(cmd.Context(), user.ID(), start, end)
		if err != nil {
			return err
		}
		if outcome.Skipped {
			fmt.Printf("Sync skipped: %s\n", outcome.SkipReason)
			return nil
		}

		session := outcome.Session
		fmt.Printf("Sync %s: found insper=%d google=%d, created=%d updated=%d deleted=%d failed=%d (%.1fs)\n",
			session.Status(),
			session.InsperEventsFound(), session.GoogleEventsFound(),
			session.EventsCreated(), session.EventsUpdated(), session.EventsDeleted(), session.EventsFailed(),
			session.Duration().Seconds(),
		)
		if session.ErrorMessage() != "" {
			fmt.Printf("Error: %s\n", session.ErrorMessage())
		}
		return nil
	},
}

var syncStatusEmail string

var syncStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current sync state for a user",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := requireApp()
		if err != nil {
			return err
		}
		user, err := requireUser(cmd.Context(), a, syncStatusEmail)
		if err != nil {
			return err
		}

		report, err := a.SyncQueries.Status(cmd.Context(), user.ID())
		if err != nil {
			return err
		}

		if report.Capabilities.Complete() {
			fmt.Println("Readiness: ready")
		} else {
			fmt.Printf("Readiness: incomplete (%s)\n", strings.Join(report.Capabilities.Missing(), ", "))
		}
		if report.LastSyncAt != nil {
			fmt.Printf("Last successful sync: %s\n", report.LastSyncAt.Local().Format("2006-01-02 15:04:05"))
		} else {
			fmt.Println("Last successful sync: never")
		}
		if report.Running {
			fmt.Println("A sync is currently running.")
		}
		if config := report.Config; config != nil {
			fmt.Printf("Sync enabled: %t (every %dh, calendar %q)\n",
				config.SyncEnabled(), config.SyncFrequencyHours(), config.GoogleCalendarName())
			if len(config.ExcludedEventTypes()) > 0 {
				fmt.Printf("Excluded event types: %s\n", strings.Join(config.ExcludedEventTypes(), ", "))
			}
			if len(config.ExcludedDisciplines()) > 0 {
				fmt.Printf("Excluded disciplines: %s\n", strings.Join(config.ExcludedDisciplines(), ", "))
			}
		}
		if session := report.LastSession; session != nil {
			fmt.Printf("Last session: %s at %s (created=%d updated=%d deleted=%d failed=%d)\n",
				session.Status(), session.StartedAt().Local().Format("2006-01-02 15:04:05"),
				session.EventsCreated(), session.EventsUpdated(), session.EventsDeleted(), session.EventsFailed())
		}
		return nil
	},
}

var (
	syncHistoryEmail string
	syncHistoryLimit int
)

var syncHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent sync sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := requireApp()
		if err != nil {
			return err
		}
		user, err := requireUser(cmd.Context(), a, syncHistoryEmail)
		if err != nil {
			return err
		}

		sessions, err := a.SyncQueries.History(cmd.Context(), user.ID(), syncHistoryLimit)
		if err != nil {
			return err
		}
		if len(sessions) == 0 {
			fmt.Println("No sync sessions recorded.")
			return nil
		}

		for _, session := range sessions {
			line := fmt.Sprintf("%s  %-9s c=%d u=%d d=%d f=%d",
				session.StartedAt().Local().Format("2006-01-02 15:04:05"),
				session.Status(),
				session.EventsCreated(), session.EventsUpdated(), session.EventsDeleted(), session.EventsFailed())
			if session.ErrorMessage() != "" {
				line += "  " + session.ErrorMessage()
			}
			fmt.Println(line)
		}
		return nil
	},
}

var (
	syncConfigEmail            string
	syncConfigEnable           bool
	syncConfigDisable          bool
	syncConfigFrequency        int
	syncConfigCalendarName     string
	syncConfigPrefix           bool
	syncConfigNoPrefix         bool
	syncConfigExcludeTypes     []string
	syncConfigExcludeCourses   []string
	syncConfigClearExclusions  bool
	syncConfigIncludeTeacher   bool
	syncConfigNoIncludeTeacher bool
	syncConfigIncludeCode      bool
	syncConfigNoIncludeCode    bool
)

var syncConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect or change a user's sync configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := requireApp()
		if err != nil {
			return err
		}
		user, err := requireUser(cmd.Context(), a, syncConfigEmail)
		if err != nil {
			return err
		}

		config, err := a.Configs.FindByUserID(cmd.Context(), user.ID())
		if err != nil {
			return err
		}
		if config == nil {
			config = syncDomain.NewSyncConfiguration(user.ID())
		}

		changed := false
		if syncConfigEnable {
			config.Enable()
			changed = true
		}
		if syncConfigDisable {
			config.Disable()
			changed = true
		}
		if cmd.Flags().Changed("frequency") {
			config.SetFrequencyHours(syncConfigFrequency)
			changed = true
		}
		if cmd.Flags().Changed("calendar-name") {
			config.SetCalendarName(syncConfigCalendarName)
			changed = true
		}
		if flagPairChanged(cmd, "prefix", "no-prefix") ||
			flagPairChanged(cmd, "include-teacher", "no-include-teacher") ||
			flagPairChanged(cmd, "include-discipline-code", "no-include-discipline-code") {
			config.SetFormatting(
				resolveToggle(cmd, "prefix", "no-prefix", config.AddInsperPrefix()),
				resolveToggle(cmd, "include-teacher", "no-include-teacher", config.IncludeTeacherInDescription()),
				resolveToggle(cmd, "include-discipline-code", "no-include-discipline-code", config.IncludeDisciplineCode()),
			)
			changed = true
		}
		if syncConfigClearExclusions {
			config.ClearExclusions()
			changed = true
		}
		for _, eventType := range syncConfigExcludeTypes {
			config.ExcludeEventType(eventType)
			changed = true
		}
		for _, code := range syncConfigExcludeCourses {
			config.ExcludeDiscipline(code)
			changed = true
		}

		if changed {
			if err := a.Configs.Save(cmd.Context(), config); err != nil {
				return err
			}
			fmt.Println("Configuration saved.")
		}

		fmt.Printf("Enabled:                 %t\n", config.SyncEnabled())
		fmt.Printf("Frequency:               every %dh\n", config.SyncFrequencyHours())
		fmt.Printf("Calendar name:           %s\n", config.GoogleCalendarName())
		fmt.Printf("Title prefix:            %t\n", config.AddInsperPrefix())
		fmt.Printf("Include teacher:         %t\n", config.IncludeTeacherInDescription())
		fmt.Printf("Include discipline code: %t\n", config.IncludeDisciplineCode())
		fmt.Printf("Excluded event types:    %s\n", orDash(strings.Join(config.ExcludedEventTypes(), ", ")))
		fmt.Printf("Excluded disciplines:    %s\n", orDash(strings.Join(config.ExcludedDisciplines(), ", ")))
		return nil
	},
}

func parseDateFlag(value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := time.ParseInLocation("2006-01-02", value, time.UTC)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func flagPairChanged(cmd *cobra.Command, on, off string) bool {
	return cmd.Flags().Changed(on) || cmd.Flags().Changed(off)
}

// resolveToggle maps a --x / --no-x flag pair onto the stored value.
func resolveToggle(cmd *cobra.Command, on, off string, current bool) bool {
	switch {
	case cmd.Flags().Changed(on):
		return true
	case cmd.Flags().Changed(off):
		return false
	default:
		return current
	}
}

func init() {
	syncRunCmd.Flags().StringVar(&syncRunEmail, "email", "", "account email")
	syncRunCmd.Flags().StringVar(&syncRunStart, "start", "", "range start (YYYY-MM-DD, default: first of current month)")
	syncRunCmd.Flags().StringVar(&syncRunEnd, "end", "", "range end (YYYY-MM-DD, default: first of next month + 31 days)")
	syncRunCmd.Flags().BoolVar(&syncRunQueue, "queue", false, "enqueue the sync as a background job instead of running inline")

	syncStatusCmd.Flags().StringVar(&syncStatusEmail, "email", "", "account email")

	syncHistoryCmd.Flags().StringVar(&syncHistoryEmail, "email", "", "account email")
	syncHistoryCmd.Flags().IntVar(&syncHistoryLimit, "limit", 10, "number of sessions to list")

	syncConfigCmd.Flags().StringVar(&syncConfigEmail, "email", "", "account email")
	syncConfigCmd.Flags().BoolVar(&syncConfigEnable, "enable", false, "enable automatic sync")
	syncConfigCmd.Flags().BoolVar(&syncConfigDisable, "disable", false, "disable automatic sync")
	syncConfigCmd.Flags().IntVar(&syncConfigFrequency, "frequency", 6, "sync frequency in hours")
	syncConfigCmd.Flags().StringVar(&syncConfigCalendarName, "calendar-name", "", "dedicated calendar name")
	syncConfigCmd.Flags().BoolVar(&syncConfigPrefix, "prefix", false, "prefix event titles with [Insper]")
	syncConfigCmd.Flags().BoolVar(&syncConfigNoPrefix, "no-prefix", false, "do not prefix event titles")
	syncConfigCmd.Flags().BoolVar(&syncConfigIncludeTeacher, "include-teacher", false, "include the teacher in descriptions")
	syncConfigCmd.Flags().BoolVar(&syncConfigNoIncludeTeacher, "no-include-teacher", false, "omit the teacher from descriptions")
	syncConfigCmd.Flags().BoolVar(&syncConfigIncludeCode, "include-discipline-code", false, "include the discipline code in descriptions")
	syncConfigCmd.Flags().BoolVar(&syncConfigNoIncludeCode, "no-include-discipline-code", false, "omit the discipline code from descriptions")
	syncConfigCmd.Flags().StringSliceVar(&syncConfigExcludeTypes, "exclude-type", nil, "event type to exclude from sync (repeatable)")
	syncConfigCmd.Flags().StringSliceVar(&syncConfigExcludeCourses, "exclude-discipline", nil, "discipline code to exclude from sync (repeatable)")
	syncConfigCmd.Flags().BoolVar(&syncConfigClearExclusions, "clear-exclusions", false, "clear all exclusion lists")

	syncCmd.AddCommand(syncRunCmd)
	syncCmd.AddCommand(syncStatusCmd)
	syncCmd.AddCommand(syncHistoryCmd)
	syncCmd.AddCommand(syncConfigCmd)
	rootCmd.AddCommand(syncCmd)
}
