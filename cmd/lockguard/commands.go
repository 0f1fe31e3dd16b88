package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mirkobrombin/go-lockguard/v1/auth"
	"github.com/mirkobrombin/go-lockguard/v1/lifecycle"
)

func errMemoryBackend(what string) error {
	return fmt.Errorf("%s backend is memory; configure a shared backend", what)
}

func newEmitCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:       "emit <foregrounded|backgrounded|inactive>",
		Short:     "Publish a lifecycle transition",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"foregrounded", "backgrounded", "inactive"},
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := lifecycle.ParseTransition(args[0])
			if err != nil {
				return err
			}
			stack, err := flags.openShared(false, true)
			if err != nil {
				return err
			}
			defer stack.Close()
			if err := stack.Source.Publish(cmd.Context(), t); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "published %s\n", t)
			return nil
		},
	}
}

func newSetLockCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "set-lock <on|off>",
		Short: "Enable or disable the privacy lock",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var enabled bool
			switch strings.ToLower(args[0]) {
			case "on", "true", "enable", "enabled":
				enabled = true
			case "off", "false", "disable", "disabled":
			default:
				return fmt.Errorf("expected on or off, got %q", args[0])
			}
			stack, err := flags.openShared(true, false)
			if err != nil {
				return err
			}
			defer stack.Close()
			ctx := cmd.Context()
			if err := stack.Prefs.Hydrate(ctx); err != nil {
				return err
			}
			if err := stack.Prefs.SetLockEnabled(ctx, enabled); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "lock enabled: %t\n", enabled)
			return nil
		},
	}
}

func newHashPasscodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-passcode [passcode]",
		Short: "Print the bcrypt hash for auth.passcode_hash",
		Long:  "Hashes the passcode given as argument, or the first line of stdin when omitted.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var code string
			if len(args) == 1 {
				code = args[0]
			} else {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("read passcode: %w", err)
				}
				code = strings.TrimRight(line, "\r\n")
			}
			if code == "" {
				return fmt.Errorf("passcode must not be empty")
			}
			hash, err := auth.HashPasscode(code)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}
