package cli

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var credentialsCmd = &cobra.Command{
	Use:   "credentials",
	Short: "Manage Insper portal credentials",
}

var credentialsSetEmail string

var credentialsSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Validate and store portal credentials",
	Long: `Prompts for the portal username and password, encrypts the password
with the portal's own public key, verifies the result with a live login,
and stores the ciphertext. The plaintext is never persisted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := requireApp()
		if err != nil {
			return err
		}
		user, err := requireUser(cmd.Context(), a, credentialsSetEmail)
		if err != nil {
			return err
		}

		username, password, err := promptPortalCredentials()
		if err != nil {
			return err
		}

		if err := a.Credentials.ValidateAndStore(cmd.Context(), user.ID(), username, password); err != nil {
			return err
		}

		fmt.Printf("Credentials validated and stored for %s.\n", user.Email())
		return nil
	},
}

var credentialsValidateEmail string

var credentialsValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Re-check stored credentials against the portal",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := requireApp()
		if err != nil {
			return err
		}
		user, err := requireUser(cmd.Context(), a, credentialsValidateEmail)
		if err != nil {
			return err
		}

		if err := a.Credentials.Validate(cmd.Context(), user.ID()); err != nil {
			return err
		}

		fmt.Println("Credentials are valid.")
		return nil
	},
}

var credentialsRefreshEmail string

var credentialsRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Refresh the academic snapshot from the portal profile",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := requireApp()
		if err != nil {
			return err
		}
		user, err := requireUser(cmd.Context(), a, credentialsRefreshEmail)
		if err != nil {
			return err
		}

		if err := a.Credentials.RefreshAcademicData(cmd.Context(), user.ID()); err != nil {
			return err
		}

		fmt.Println("Academic data refreshed.")
		return nil
	},
}

func promptPortalCredentials() (username, password string, err error) {
	reader := bufio.NewReader(os.Stdin)

	fmt.Print("Portal username: ")
	username, err = reader.ReadString('\n')
	if err != nil {
		return "", "", fmt.Errorf("failed to read username: %w", err)
	}
	username = strings.TrimSpace(username)

	fmt.Print("Portal password: ")
	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", "", fmt.Errorf("failed to read password: %w", err)
	}
	password = string(passwordBytes)

	if username == "" || password == "" {
		return "", "", errors.New("username and password are required")
	}

	return username, password, nil
}

func init() {
	credentialsSetCmd.Flags().StringVar(&credentialsSetEmail, "email", "", "account email")
	credentialsValidateCmd.Flags().StringVar(&credentialsValidateEmail, "email", "", "account email")
	credentialsRefreshCmd.Flags().StringVar(&credentialsRefreshEmail, "email", "", "account email")

	credentialsCmd.AddCommand(credentialsSetCmd)
	credentialsCmd.AddCommand(credentialsValidateCmd)
	credentialsCmd.AddCommand(credentialsRefreshCmd)
	rootCmd.AddCommand(credentialsCmd)
}
