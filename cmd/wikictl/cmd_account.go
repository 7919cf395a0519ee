package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Manage editor accounts (requires --admin-key)",
}

var accountCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create an editor or admin account",
	Args:  cobra.NoArgs,
	RunE:  runAccountCreate,
}

var accountDisableCmd = &cobra.Command{
	Use:   "disable ID",
	Short: "Disable an account and revoke its sessions",
	Args:  cobra.ExactArgs(1),
	RunE:  runAccountDisable,
}

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Show server counters (requires --admin-key)",
	Args:  cobra.NoArgs,
	RunE:  runMetrics,
}

func init() {
	f := accountCreateCmd.Flags()
	f.StringP("username", "u", "", "Account name (required)")
	f.StringP("password", "p", "", "Initial password (required)")
	f.String("role", "editor", "Role: editor or admin")
	_ = accountCreateCmd.MarkFlagRequired("username")
	_ = accountCreateCmd.MarkFlagRequired("password")

	accountCmd.AddCommand(accountCreateCmd, accountDisableCmd)
	rootCmd.AddCommand(metricsCmd)
}

func requireAdminKey() error {
	if settings.GetString("admin-key") == "" {
		return errors.New("admin key required: pass --admin-key or set WIKICTL_ADMIN_KEY")
	}
	return nil
}

func runAccountCreate(cmd *cobra.Command, args []string) error {
	if err := requireAdminKey(); err != nil {
		return err
	}
	f := cmd.Flags()
	username, _ := f.GetString("username")
	password, _ := f.GetString("password")
	role, _ := f.GetString("role")

	acc, err := newClient().CreateAccount(cmd.Context(), username, password, role)
	if err != nil {
		return fmt.Errorf("create account: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created %s #%d (%s)\n", acc.Username, acc.ID, acc.Role)
	return nil
}

func runAccountDisable(cmd *cobra.Command, args []string) error {
	if err := requireAdminKey(); err != nil {
		return err
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || id <= 0 {
		return fmt.Errorf("invalid account id %q", args[0])
	}
	if err := newClient().DisableAccount(cmd.Context(), id); err != nil {
		return fmt.Errorf("disable account: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Disabled #%d\n", id)
	return nil
}

func runMetrics(cmd *cobra.Command, args []string) error {
	if err := requireAdminKey(); err != nil {
		return err
	}
	m, err := newClient().Metrics(cmd.Context())
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(m)
}
