package main

import (
	"encoding/json"
	"errors"

	"github.com/spf13/cobra"
)

var (
	backendCmd = &cobra.Command{
		Use:   "backend",
		Short: "Query the configured chat backend",
	}
	backendConfigCmd = &cobra.Command{
		Use:   "config",
		Short: "Print the backend chat configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd, func(a *app, enc *json.Encoder) error {
				resp, err := a.backend.Config(cmd.Context())
				if err != nil {
					return err
				}
				return enc.Encode(resp)
			})
		},
	}
	backendSessionCmd = &cobra.Command{
		Use:   "session",
		Short: "Print whether the backend needs a token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd, func(a *app, enc *json.Encoder) error {
				resp, err := a.backend.Session(cmd.Context())
				if err != nil {
					return err
				}
				return enc.Encode(resp)
			})
		},
	}
	backendVerifyCmd = &cobra.Command{
		Use:   "verify [token]",
		Short: "Check a token against the backend",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd, func(a *app, enc *json.Encoder) error {
				resp, err := a.backend.Verify(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return enc.Encode(resp)
			})
		},
	}
)

func init() {
	backendCmd.AddCommand(backendConfigCmd)
	backendCmd.AddCommand(backendSessionCmd)
	backendCmd.AddCommand(backendVerifyCmd)
}

func withBackend(cmd *cobra.Command, fn func(a *app, enc *json.Encoder) error) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.backend == nil {
		return errors.New("backend.base_url is not configured")
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return fn(a, enc)
}
