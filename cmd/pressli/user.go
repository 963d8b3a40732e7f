package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pressli/pressli"
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage user accounts",
}

var userCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a user account",
	Long: `Create a user account. Use it once after installation to create the
first administrator:

  pressli user create --username admin --email admin@example.com --password ...`,
	RunE: runUserCreate,
}

var userPasswdCmd = &cobra.Command{
	Use:   "passwd <username|email> <password>",
	Short: "Reset a user's password",
	Args:  cobra.ExactArgs(2),
	RunE:  runUserPasswd,
}

var userFlags pressli.UserInput

func init() {
	f := userCreateCmd.Flags()
	f.StringVar(&userFlags.Username, "username", "", "login name (required)")
	f.StringVar(&userFlags.Email, "email", "", "email address (required)")
	f.StringVar(&userFlags.Password, "password", "", "password (required)")
	f.StringVar(&userFlags.DisplayName, "name", "", "display name")
	f.StringVar(&userFlags.Role, "role", pressli.RoleAdministrator, "role name")
	userCreateCmd.MarkFlagRequired("username")
	userCreateCmd.MarkFlagRequired("email")
	userCreateCmd.MarkFlagRequired("password")

	userCmd.AddCommand(userCreateCmd, userPasswdCmd)
}

func runUserCreate(cmd *cobra.Command, args []string) error {
	app, _, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer app.Close()

	u, err := app.Users.Create(cmd.Context(), userFlags)
	if err != nil {
		return describe(err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "created %s %q (id %d)\n", u.Role.Name, u.Username, u.ID)
	return nil
}

func runUserPasswd(cmd *cobra.Command, args []string) error {
	app, _, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer app.Close()

	if err := app.Users.SetPassword(cmd.Context(), args[0], args[1]); err != nil {
		return describe(err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "password updated for %s\n", args[0])
	return nil
}

// describe drops the wrapping of user-facing service errors.
func describe(err error) error {
	var se *pressli.ServiceError
	if errors.As(err, &se) {
		return errors.New(se.Message)
	}
	return err
}
