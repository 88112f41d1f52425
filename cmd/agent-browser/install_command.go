package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"agentbrowser/internal/browser"
)

func newInstallCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:         "install [chromium|firefox|webkit ...]",
		Short:       "Download the browser driver and browsers (chromium by default)",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		ValidArgs:   []string{browser.BackendChromium, browser.BackendFirefox, browser.BackendWebKit},
		RunE: func(cmd *cobra.Command, args []string) error {
			r := ctx.rendererFor(cmd)
			if err := browser.Install(browser.InstallOptions{
				Browsers: args,
				Stdout:   cmd.OutOrStdout(),
				Stderr:   cmd.ErrOrStderr(),
			}); err != nil {
				return err
			}
			if r.json {
				return writeJSONLine(r.stdout, map[string]any{"success": true})
			}
			fmt.Fprintf(r.stdout, "%s Browsers installed\n", r.successMark())
			return nil
		},
	}
}
