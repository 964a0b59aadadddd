package tui

import "strings"

// Command represents a parsed command.
type Command struct {
	Name string
	Args string
}

// commands lists the canonical command names offered for completion.
var commands = []string{
	"chat", "conflicts", "connect", "disconnect", "help", "quit",
	"retry", "search", "sync", "sync-all",
}

var aliases = map[string]string{
	"q":      "quit",
	"exit":   "quit",
	"h":      "help",
	"s":      "search",
	"open":   "chat",
	"c":      "chat",
	"all":    "sync-all",
	"cf":     "conflicts",
	"online": "connect",
	"off":    "disconnect",
}

// ParseCommand parses a command string (without the leading ':'). Aliases
// resolve to their canonical name.
func ParseCommand(input string) Command {
	input = strings.TrimSpace(input)
	parts := strings.SplitN(input, " ", 2)
	cmd := Command{Name: strings.ToLower(parts[0])}
	if canonical, ok := aliases[cmd.Name]; ok {
		cmd.Name = canonical
	}
	if len(parts) > 1 {
		cmd.Args = strings.TrimSpace(parts[1])
	}
	return cmd
}
