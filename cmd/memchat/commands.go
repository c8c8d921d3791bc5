package main

import (
	"fmt"
	"io"
	"strings"

	"memchat/internal/diagram"
	"memchat/internal/orchestrator"
	"memchat/internal/storage"
	"memchat/internal/trace"
)

var replCommands = []string{
	"/help               show this list",
	"/clear              wipe all memories and start a fresh session",
	"/stats              token usage for the last turn and the session",
	"/memory             dump every stored memory file",
	"/sessions           list recorded sessions",
	"/diagram [session]  render a session trace as a Mermaid diagram",
	"/quit               exit",
}

func printREPLCommands(out io.Writer) {
	if out == nil {
		return
	}
	fmt.Fprintln(out, "commands:")
	for _, cmd := range replCommands {
		fmt.Fprintf(out, "  %s\n", cmd)
	}
}

// handleCommand dispatches a slash command. Returns (handled, shouldExit).
func handleCommand(input string, orch *orchestrator.Orchestrator, index storage.Index, out io.Writer) (bool, bool) {
	fields := strings.Fields(input)
	if len(fields) == 0 {
		return false, false
	}

	switch fields[0] {
	case "/help":
		printREPLCommands(out)
		return true, false

	case "/quit", "/exit":
		return true, true

	case "/clear":
		msg, err := orch.ClearMemories()
		if err != nil {
			fmt.Fprintf(out, "clear failed: %v\n", err)
			return true, false
		}
		// 新会话横幅由 broker 订阅者打印 / the broker watcher prints the new banner
		fmt.Fprintln(out, msg)
		return true, false

	case "/stats":
		renderFullStats(out, orch.Stats())
		return true, false

	case "/memory":
		dump, err := orch.MemorySnapshot()
		if err != nil {
			fmt.Fprintf(out, "memory dump failed: %v\n", err)
			return true, false
		}
		fmt.Fprintln(out, dump)
		return true, false

	case "/sessions":
		rows, err := index.ListSessions()
		if err != nil {
			fmt.Fprintf(out, "list sessions failed: %v\n", err)
			return true, false
		}
		if len(rows) == 0 {
			fmt.Fprintln(out, "no sessions recorded")
			return true, false
		}
		for _, row := range rows {
			state := "live"
			if row.EndedAt != "" {
				state = "ended"
			}
			fmt.Fprintf(out, "%s  %-8s events=%-4d %s\n", row.ID, state, row.EventCount, row.Model)
		}
		return true, false

	case "/diagram":
		path := orch.TracePath()
		if len(fields) > 1 {
			row, err := index.LoadSession(fields[1])
			if err != nil {
				fmt.Fprintf(out, "lookup session failed: %v\n", err)
				return true, false
			}
			path = row.TracePath
		}
		doc, err := trace.Load(path)
		if err != nil {
			fmt.Fprintf(out, "load trace failed: %v\n", err)
			return true, false
		}
		fmt.Fprint(out, diagram.Render(doc))
		return true, false
	}

	fmt.Fprintf(out, "unknown command: %s\n", fields[0])
	return true, false
}
