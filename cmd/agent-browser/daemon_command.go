package main

import (
	"strings"

	"github.com/spf13/cobra"

	"agentbrowser/internal/daemonrun"
)

// newDaemonCommand is the entrypoint the supervisor re-executes this binary
// with. It is not meant to be run by hand.
func newDaemonCommand(ctx *commandContext) *cobra.Command {
	var runtimeDir string
	var diagnostic bool
	cmd := &cobra.Command{
		Use:    "daemon",
		Short:  "Run a session daemon in the foreground",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if dir := strings.TrimSpace(runtimeDir); dir != "" {
				cfg.Paths.RuntimeDir = dir
			}
			level := ""
			if ctx.flags.debug {
				level = "debug"
			}
			return daemonrun.Run(cmd.Context(), cfg, daemonrun.Options{
				Session:    ctx.flags.session,
				LogLevel:   level,
				Diagnostic: diagnostic,
			})
		},
	}
	cmd.Flags().StringVar(&runtimeDir, "runtime-dir", "", "Shared directory for session markers and sockets")
	cmd.Flags().BoolVar(&diagnostic, "diagnostic", false, "Mirror daemon logs into a debug JSON file")
	return cmd
}
