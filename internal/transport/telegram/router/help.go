package router

import "strings"

// helpText renders one line per command: usage, then description.
// Alias nodes share their Command and are listed once.
func helpText(cmds []Command) string {
	if len(cmds) == 0 {
		return "no commands"
	}
	lines := []string{"📄 Commands:", ""}
	seen := map[string]bool{}
	for _, c := range cmds {
		if seen[c.Route] {
			continue
		}
		seen[c.Route] = true
		usage := strings.TrimSpace(c.Usage)
		if usage == "" {
			usage = "." + c.Route
		}
		if d := strings.TrimSpace(c.Description); d != "" {
			usage += " - " + d
		}
		lines = append(lines, usage)
	}
	return strings.Join(lines, "\n")
}
