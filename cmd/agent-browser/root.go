package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() (*cobra.Command, *commandContext) {
	ctx := newCommandContext()
	f := &ctx.flags

	rootCmd := &cobra.Command{
		Use:           "agent-browser",
		Short:         "Drive a headless browser from the command line",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			ctx.changed = cmd.Flags().Changed
			if !requiresConfig(cmd) {
				return nil
			}
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&f.session, "session", "", "Session name (default from AGENT_BROWSER_SESSION or config)")
	pf.BoolVar(&f.json, "json", false, "Print raw JSON responses")
	pf.StringVarP(&f.configPath, "config", "c", "", "Configuration file path")
	pf.BoolVar(&f.debug, "debug", false, "Log daemon control steps to stderr")
	pf.BoolVar(&f.headed, "headed", false, "Show the browser window")
	pf.StringVar(&f.executablePath, "executable-path", "", "Browser executable to launch")
	pf.StringArrayVar(&f.extensions, "extension", nil, "Unpacked extension directory to load (repeatable)")
	pf.StringVar(&f.state, "state", "", "Storage state file to load at launch")
	pf.BoolVar(&f.persist, "persist", false, "Save storage state when the session closes")
	pf.BoolVar(&f.stealth, "stealth", false, "Hide common automation fingerprints")
	pf.StringVar(&f.profile, "profile", "", "Persistent browser profile directory")
	pf.BoolVar(&f.ignoreHTTPSErrors, "ignore-https-errors", false, "Ignore TLS certificate errors")
	pf.StringVar(&f.args, "args", "", "Comma-separated extra browser arguments")
	pf.StringVar(&f.userAgent, "user-agent", "", "User agent override")
	pf.StringVar(&f.backend, "backend", "", "Browser backend: chromium, firefox, webkit, memory")
	pf.StringVar(&f.sessionName, "session-name", "", "Load and auto-save browser state under this name")
	pf.StringVar(&f.headers, "headers", "", "JSON object of HTTP headers sent to the origin opened by 'open'")
	pf.StringVar(&f.cdp, "cdp", "", "Attach to a running chromium via its DevTools port or ws:// URL")

	rootCmd.AddCommand(newExecCommand(ctx))
	rootCmd.AddCommand(newSendCommand(ctx))
	for _, cmd := range newShortcutCommands(ctx) {
		rootCmd.AddCommand(cmd)
	}
	rootCmd.AddCommand(newLaunchCommand(ctx))
	rootCmd.AddCommand(newConnectCommand(ctx))
	rootCmd.AddCommand(newCloseCommand(ctx))
	rootCmd.AddCommand(newSessionCommand(ctx))
	rootCmd.AddCommand(newLogsCommand(ctx))
	rootCmd.AddCommand(newConfigCommand(ctx))
	rootCmd.AddCommand(newInstallCommand(ctx))
	rootCmd.AddCommand(newDaemonCommand(ctx))

	return rootCmd, ctx
}
