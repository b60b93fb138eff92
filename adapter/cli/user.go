package cli

import (
	"fmt"
	"strings"

	identityDomain "github.com/inspersync/inspersync/internal/identity/domain"
	"github.com/spf13/cobra"
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage sync accounts",
}

var (
	userAddEmail    string
	userAddName     string
	userAddVerified bool
)

var userAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Register a new sync account",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := requireApp()
		if err != nil {
			return err
		}
		if userAddEmail == "" {
			return fmt.Errorf("missing --email")
		}

		existing, err := a.Users.FindByEmail(cmd.Context(), userAddEmail)
		if err != nil {
			return err
		}
		if existing != nil {
			return fmt.Errorf("user %s already exists", existing.Email())
		}

		user := identityDomain.NewUser(userAddEmail, userAddName)
		if userAddVerified {
			user.VerifyEmail()
		}
		if err := a.Users.Save(cmd.Context(), user); err != nil {
			return err
		}

		fmt.Printf("Created user %s (%s)\n", user.Email(), user.ID())
		return nil
	},
}

var userListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered accounts",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := requireApp()
		if err != nil {
			return err
		}

		users, err := a.Users.FindAll(cmd.Context())
		if err != nil {
			return err
		}
		if len(users) == 0 {
			fmt.Println("No users registered.")
			return nil
		}

		for _, user := range users {
			caps := user.Capabilities()
			state := "ready"
			if !caps.Complete() {
				state = "incomplete: " + strings.Join(caps.Missing(), ", ")
			}
			fmt.Printf("%s  %-35s %s\n", user.ID(), user.Email(), state)
		}
		return nil
	},
}

var userShowEmail string

var userShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show one account in detail",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := requireApp()
		if err != nil {
			return err
		}
		user, err := requireUser(cmd.Context(), a, userShowEmail)
		if err != nil {
			return err
		}

		fmt.Printf("ID:              %s\n", user.ID())
		fmt.Printf("Email:           %s (verified: %t)\n", user.Email(), user.EmailVerified())
		fmt.Printf("Name:            %s\n", user.Name())
		fmt.Printf("Portal username: %s\n", orDash(user.PortalUsername()))
		fmt.Printf("Matricula:       %s\n", orDash(user.Matricula()))
		fmt.Printf("Turma:           %s\n", orDash(user.Turma()))
		fmt.Printf("Curso:           %s\n", orDash(user.Curso()))
		fmt.Printf("Google:          connected=%t calendar=%s\n", user.GoogleConnected(), orDash(user.GoogleCalendarID()))
		if last := user.LastSyncAt(); last != nil {
			fmt.Printf("Last sync:       %s\n", last.Local().Format("2006-01-02 15:04:05"))
		} else {
			fmt.Println("Last sync:       never")
		}
		return nil
	},
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func init() {
	userAddCmd.Flags().StringVar(&userAddEmail, "email", "", "account email")
	userAddCmd.Flags().StringVar(&userAddName, "name", "", "display name")
	userAddCmd.Flags().BoolVar(&userAddVerified, "verified", false, "mark the email as already verified")
	userShowCmd.Flags().StringVar(&userShowEmail, "email", "", "account email")

	userCmd.AddCommand(userAddCmd)
	userCmd.AddCommand(userListCmd)
	userCmd.AddCommand(userShowCmd)
	rootCmd.AddCommand(userCmd)
}
