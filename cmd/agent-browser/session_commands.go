package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"agentbrowser/internal/ipc"
	"agentbrowser/internal/session"
)

func newSessionCommand(ctx *commandContext) *cobra.Command {
	sessionCmd := &cobra.Command{
		Use:   "session",
		Short: "Show the current session name",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r := ctx.rendererFor(cmd)
			name := ctx.sessionName()
			if r.json {
				return writeJSONLine(r.stdout, ipc.OK("", map[string]any{"session": name}))
			}
			fmt.Fprintln(r.stdout, name)
			return nil
		},
	}

	var all bool
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List running sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			entries, err := session.NewRegistry(cfg.Paths.RuntimeDir).List()
			if err != nil {
				return fmt.Errorf("list sessions: %w", err)
			}
			session.SortEntries(entries)
			if !all {
				live := entries[:0]
				for _, e := range entries {
					if e.Alive {
						live = append(live, e)
					}
				}
				entries = live
			}
			return renderSessions(ctx.rendererFor(cmd), entries, ctx.sessionName())
		},
	}
	listCmd.Flags().BoolVarP(&all, "all", "a", false, "Include stale session markers")

	stopCmd := &cobra.Command{
		Use:   "stop [name]",
		Short: "Stop a session daemon (defaults to the current session)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := ctx.sessionName()
			if len(args) == 1 {
				name = session.Canonical(args[0])
			}
			return ctx.stopSession(cmd, name)
		},
	}

	sessionCmd.AddCommand(listCmd, stopCmd)
	return sessionCmd
}

func renderSessions(r *renderer, entries []session.Entry, current string) error {
	if r.json {
		type jsonSession struct {
			Name    string `json:"name"`
			PID     int    `json:"pid,omitempty"`
			Alive   bool   `json:"alive"`
			Current bool   `json:"current"`
		}
		out := make([]jsonSession, 0, len(entries))
		for _, e := range entries {
			out = append(out, jsonSession{Name: e.Name, PID: e.PID, Alive: e.Alive, Current: e.Name == current})
		}
		return writeJSONLine(r.stdout, ipc.OK("", map[string]any{"sessions": out}))
	}
	if len(entries) == 0 {
		fmt.Fprintln(r.stdout, "No active sessions")
		return nil
	}
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		marker := ""
		if e.Name == current {
			marker = "→"
		}
		pid := "-"
		if e.PID > 0 {
			pid = strconv.Itoa(e.PID)
		}
		state := "running"
		if !e.Alive {
			state = "stale"
		}
		rows = append(rows, []string{marker, e.Name, pid, state})
	}
	fmt.Fprintln(r.stdout, renderTable([]string{"", "Session", "PID", "State"}, rows, 3))
	return nil
}
