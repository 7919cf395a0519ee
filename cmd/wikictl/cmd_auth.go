package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in and store the session token",
	Long: `Signs in with username and password and writes the session token to the
token file. The password can come from --password or WIKICTL_PASSWORD.`,
	Args: cobra.NoArgs,
	RunE: runLogin,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Revoke the stored session and forget the token",
	Args:  cobra.NoArgs,
	RunE:  runLogout,
}

func init() {
	loginCmd.Flags().StringP("username", "u", "", "Account name (required)")
	loginCmd.Flags().StringP("password", "p", "", "Account password")
	_ = loginCmd.MarkFlagRequired("username")
	_ = settings.BindPFlag("password", loginCmd.Flags().Lookup("password"))
}

func runLogin(cmd *cobra.Command, args []string) error {
	username, _ := cmd.Flags().GetString("username")
	password := settings.GetString("password")
	if password == "" {
		return errors.New("password required: pass --password or set WIKICTL_PASSWORD")
	}

	sess, err := newClient().Login(cmd.Context(), username, password)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	path := tokenPath()
	if err := writeToken(path, sess.Token); err != nil {
		return err
	}
	logger.Debug("session stored", zap.String("path", path), zap.Int64("account_id", sess.AccountID))
	fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s (%s)\n", sess.Username, sess.Role)
	return nil
}

func runLogout(cmd *cobra.Command, args []string) error {
	path := tokenPath()
	token, err := readToken(path)
	if err != nil {
		return err
	}
	if token == "" {
		fmt.Fprintln(cmd.OutOrStdout(), "Not signed in")
		return nil
	}
	// The local token goes regardless; an expired session cannot be revoked.
	if err := newClient().Logout(cmd.Context(), token); err != nil {
		logger.Warn("server logout failed", zap.Error(err))
	}
	if err := removeToken(path); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
	return nil
}
