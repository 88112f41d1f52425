package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"agentbrowser/internal/daemon"
	"agentbrowser/internal/ipc"
)

func newExecCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "exec <action> [key=value | key:=json ...]",
		Short: "Send one action to the session daemon",
		Long: "Send one action to the session daemon, starting it if needed.\n\n" +
			"key=value sets a string field; key:=json sets a raw JSON value, for\n" +
			"example timeout:=500 or fullPage:=true.",
		Args:      cobra.MinimumNArgs(1),
		ValidArgs: daemon.Actions(),
		RunE: func(cmd *cobra.Command, args []string) error {
			fields, err := parseFields(args[1:])
			if err != nil {
				return err
			}
			return ctx.dispatch(cmd, ipc.NewCommand(args[0], fields))
		},
	}
}

func newSendCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "send <json>",
		Short: "Send a raw JSON command to the session daemon",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			command, err := parseRawCommand(args[0])
			if err != nil {
				return err
			}
			return ctx.dispatch(cmd, command)
		},
	}
}

func newShortcutCommands(ctx *commandContext) []*cobra.Command {
	openCmd := &cobra.Command{
		Use:     "open <url>",
		Aliases: []string{"goto", "navigate"},
		Short:   "Navigate to a URL (https:// is added when no scheme is given)",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fields, err := navigateFields(args[0], ctx.flags.headers)
			if err != nil {
				return err
			}
			return ctx.dispatch(cmd, ipc.NewCommand("navigate", fields))
		},
	}

	headersCmd := &cobra.Command{
		Use:   "headers <json>",
		Short: "Send extra HTTP headers with every request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			headers, err := parseHeaders(args[0])
			if err != nil {
				return err
			}
			return ctx.dispatch(cmd, ipc.NewCommand("headers", map[string]any{"headers": headers}))
		},
	}

	simple := []struct{ use, short string }{
		{"url", "Print the current URL"},
		{"title", "Print the page title"},
		{"back", "Go back in history"},
		{"forward", "Go forward in history"},
		{"reload", "Reload the page"},
		{"status", "Show the session daemon status"},
	}
	cmds := []*cobra.Command{openCmd, headersCmd}
	for _, s := range simple {
		action := s.use
		cmds = append(cmds, &cobra.Command{
			Use:   action,
			Short: s.short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return ctx.dispatch(cmd, ipc.NewCommand(action, nil))
			},
		})
	}
	return cmds
}

// parseFields turns key=value and key:=json arguments into command fields.
func parseFields(args []string) (map[string]any, error) {
	fields := make(map[string]any, len(args))
	for _, arg := range args {
		if i := strings.Index(arg, ":="); i > 0 && !strings.Contains(arg[:i], "=") {
			var value any
			dec := json.NewDecoder(strings.NewReader(arg[i+2:]))
			dec.UseNumber()
			if err := dec.Decode(&value); err != nil {
				return nil, fmt.Errorf("field %s: invalid JSON value: %w", arg[:i], err)
			}
			fields[arg[:i]] = value
			continue
		}
		key, value, ok := strings.Cut(arg, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("invalid field %q (want key=value or key:=json)", arg)
		}
		fields[key] = value
	}
	return fields, nil
}

// parseRawCommand decodes a JSON object carrying at least an action.
func parseRawCommand(raw string) (ipc.Command, error) {
	var command ipc.Command
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	if err := dec.Decode(&command); err != nil {
		return nil, fmt.Errorf("invalid command JSON: %w", err)
	}
	if command == nil {
		return nil, errors.New("invalid command JSON: expected an object")
	}
	if strings.TrimSpace(command.Action()) == "" {
		return nil, errors.New("command is missing an action")
	}
	return command, nil
}

// navigateFields builds a navigate command, scoping headersJSON to the
// target's origin when it is set.
func navigateFields(rawURL, headersJSON string) (map[string]any, error) {
	fields := map[string]any{"url": normalizeURL(rawURL)}
	if strings.TrimSpace(headersJSON) == "" {
		return fields, nil
	}
	headers, err := parseHeaders(headersJSON)
	if err != nil {
		return nil, fmt.Errorf("--headers: %w", err)
	}
	fields["headers"] = headers
	return fields, nil
}

// parseHeaders decodes a JSON object of header names to values.
func parseHeaders(raw string) (map[string]any, error) {
	var headers map[string]any
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&headers); err != nil {
		return nil, fmt.Errorf("invalid headers JSON: %w", err)
	}
	if headers == nil {
		return nil, errors.New("invalid headers JSON: expected an object")
	}
	return headers, nil
}

// normalizeURL prepends https:// to a bare host.
func normalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	for _, prefix := range []string{"http://", "https://", "about:", "data:", "file:"} {
		if strings.HasPrefix(strings.ToLower(raw), prefix) {
			return raw
		}
	}
	return "https://" + raw
}
