// ABOUTME: Chat command parsing and the help text
// ABOUTME: Commands are a prefix, a case-insensitive name, and whitespace separated arguments

package matrix

import (
	"strings"

	"github.com/2389/vpsbot/internal/provision"
)

// Command names.
const (
	CommandCreateVPS      = "create-vps"
	CommandCreateVPSIntel = "create-vps-intel"
	CommandPing           = "ping"
	CommandHelp           = "help"
	CommandRequests       = "requests"
	CommandRequest        = "request"
)

// Command is a parsed chat command.
type Command struct {
	Name string
	Args []string
}

// ParseCommand extracts a command from a message body. It returns false when the
// body does not start with prefix or names no command.
func ParseCommand(body, prefix string) (Command, bool) {
	body = strings.TrimSpace(body)
	if prefix != "" {
		if !strings.HasPrefix(body, prefix) {
			return Command{}, false
		}
		body = strings.TrimPrefix(body, prefix)
	}

	fields := strings.Fields(body)
	if len(fields) == 0 {
		return Command{}, false
	}
	return Command{Name: strings.ToLower(fields[0]), Args: fields[1:]}, true
}

// IsProvisioning reports whether the command creates a guest.
func (c Command) IsProvisioning() bool {
	return c.Name == CommandCreateVPS || c.Name == CommandCreateVPSIntel
}

// IsHistory reports whether the command reads the request ledger.
func (c Command) IsHistory() bool {
	return c.Name == CommandRequests || c.Name == CommandRequest
}

// helpText lists the commands. The history commands are listed only when the
// ledger is enabled.
func helpText(prefix string, history bool) string {
	var b strings.Builder
	b.WriteString("**Available commands**\n\n")
	b.WriteString("- `" + prefix + provision.Usage + "`: create a container on the Proxmox host\n")
	if history {
		b.WriteString("- `" + prefix + requestsUsage + "`: list recent provisioning requests\n")
		b.WriteString("- `" + prefix + requestUsage + "`: show one provisioning request\n")
	}
	b.WriteString("- `" + prefix + CommandPing + "`: check that the bot is responding\n")
	b.WriteString("- `" + prefix + CommandHelp + "`: show this message\n")
	return b.String()
}
