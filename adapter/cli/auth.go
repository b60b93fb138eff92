package cli

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage the Google Calendar connection",
}

var (
	authConnectEmail string
	authConnectCode  string
)

var authConnectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Connect a Google account via OAuth2",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := requireApp()
		if err != nil {
			return err
		}
		if a.Auth == nil {
			return errors.New("google oauth not configured")
		}
		user, err := requireUser(cmd.Context(), a, authConnectEmail)
		if err != nil {
			return err
		}

		code := strings.TrimSpace(authConnectCode)
		if code == "" {
			state := uuid.New().String()
			fmt.Println("Visit this URL to authorize access to your calendar:")
			fmt.Println(a.Auth.AuthURL(state))

			fmt.Print("\nEnter the authorization code: ")
			reader := bufio.NewReader(os.Stdin)
			line, err := reader.ReadString('\n')
			if err != nil {
				return fmt.Errorf("failed to read code: %w", err)
			}
			code = strings.TrimSpace(line)
		}
		if code == "" {
			return errors.New("authorization code is required")
		}

		if err := a.Auth.ExchangeAndStore(cmd.Context(), user.ID(), code); err != nil {
			return err
		}

		fmt.Printf("Google Calendar connected for %s.\n", user.Email())
		return nil
	},
}

var authStatusEmail string

var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the Google connection state",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := requireApp()
		if err != nil {
			return err
		}
		user, err := requireUser(cmd.Context(), a, authStatusEmail)
		if err != nil {
			return err
		}

		if !user.GoogleConnected() {
			fmt.Println("Google Calendar: not connected")
			return nil
		}

		fmt.Println("Google Calendar: connected")
		if expiry := user.GoogleTokenExpiry(); expiry != nil {
			fmt.Printf("Access token expires: %s\n", expiry.Local().Format("2006-01-02 15:04:05"))
		}
		if calendarID := user.GoogleCalendarID(); calendarID != "" {
			fmt.Printf("Sync calendar: %s\n", calendarID)
		}
		return nil
	},
}

var authDisconnectEmail string

var authDisconnectCmd = &cobra.Command{
	Use:   "disconnect",
	Short: "Disconnect the Google account and discard tokens",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := requireApp()
		if err != nil {
			return err
		}
		if a.Auth == nil {
			return errors.New("google oauth not configured")
		}
		user, err := requireUser(cmd.Context(), a, authDisconnectEmail)
		if err != nil {
			return err
		}

		if err := a.Auth.Disconnect(cmd.Context(), user.ID()); err != nil {
			return err
		}

		fmt.Printf("Google Calendar disconnected for %s.\n", user.Email())
		return nil
	},
}

func init() {
	authConnectCmd.Flags().StringVar(&authConnectEmail, "email", "", "account email")
	authConnectCmd.Flags().StringVar(&authConnectCode, "code", "", "authorization code (skips the interactive prompt)")
	authStatusCmd.Flags().StringVar(&authStatusEmail, "email", "", "account email")
	authDisconnectCmd.Flags().StringVar(&authDisconnectEmail, "email", "", "account email")

	authCmd.AddCommand(authConnectCmd)
	authCmd.AddCommand(authStatusCmd)
	authCmd.AddCommand(authDisconnectCmd)
	rootCmd.AddCommand(authCmd)
}
