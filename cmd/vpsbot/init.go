// ABOUTME: Interactive "vpsbot init" setup
// ABOUTME: Prompts for the essentials and writes a starter TOML config

package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
)

// initAnswers holds what runInit asks for.
type initAnswers struct {
	Homeserver      string
	Username        string
	Password        string
	RecoveryKey     string
	Operator        string
	ProxmoxHost     string
	ProxmoxPassword string
	CommandPrefix   string
}

func runInit(in io.Reader, configPath string) error {
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)
	green := color.New(color.FgGreen)

	cyan.Print(banner)
	fmt.Println("    Interactive Setup")
	fmt.Println("    -----------------")
	fmt.Println()

	reader := bufio.NewReader(in)

	if _, err := os.Stat(configPath); err == nil {
		yellow.Printf("    Config already exists at %s\n", configPath)
		if answer := prompt(reader, "Overwrite? [y/N]", ""); strings.ToLower(answer) != "y" {
			fmt.Println("    Aborted.")
			return nil
		}
		fmt.Println()
	}

	a := initAnswers{
		Homeserver:      prompt(reader, "Matrix homeserver URL", "https://matrix.org"),
		Username:        prompt(reader, "Matrix bot username", ""),
		Password:        prompt(reader, "Matrix bot password", ""),
		RecoveryKey:     prompt(reader, "Matrix recovery key (optional, for E2EE)", ""),
		Operator:        prompt(reader, "Your Matrix user id (granted the provisioner role)", ""),
		ProxmoxHost:     prompt(reader, "Proxmox host", ""),
		ProxmoxPassword: prompt(reader, "Proxmox root password", ""),
		CommandPrefix:   prompt(reader, "Command prefix", "!"),
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(configPath, []byte(renderStarterConfig(a)), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	fmt.Println()
	green.Printf("    ✓ Config written to %s\n", configPath)
	fmt.Println()
	fmt.Println("    Next steps:")
	fmt.Println("    1. Add the Proxmox host key to ~/.ssh/known_hosts (ssh-keyscan)")
	fmt.Println("    2. Run: vpsbot")
	fmt.Println()

	return nil
}

func prompt(reader *bufio.Reader, label, def string) string {
	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	if def != "" {
		fmt.Printf("%s [%s]: ", label, def)
	} else {
		fmt.Printf("%s: ", label)
	}
	answer, _ := reader.ReadString('\n')
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return def
	}
	return answer
}

func renderStarterConfig(a initAnswers) string {
	var b strings.Builder
	b.WriteString("# vpsbot configuration\n# Generated by vpsbot init\n\n")

	b.WriteString("[matrix]\n")
	fmt.Fprintf(&b, "homeserver = %q\n", a.Homeserver)
	fmt.Fprintf(&b, "username = %q\n", a.Username)
	fmt.Fprintf(&b, "password = %q\n", a.Password)
	if a.RecoveryKey != "" {
		fmt.Fprintf(&b, "recovery_key = %q\n", a.RecoveryKey)
	}
	b.WriteString("# Only respond in these rooms (empty = all joined rooms)\n")
	b.WriteString("allowed_rooms = []\n")
	fmt.Fprintf(&b, "command_prefix = %q\n", a.CommandPrefix)
	b.WriteString("typing_indicator = true\n")
	b.WriteString("auto_join = true\n\n")

	b.WriteString("[authorization]\n")
	b.WriteString("authorized_roles = [\"provisioner\"]\n")
	b.WriteString("power_level_roles = false\n\n")
	b.WriteString("[authorization.members]\n")
	if a.Operator != "" {
		fmt.Fprintf(&b, "provisioner = [%q]\n", a.Operator)
	} else {
		b.WriteString("provisioner = []\n")
	}
	b.WriteString("\n")

	b.WriteString("[proxmox]\n")
	fmt.Fprintf(&b, "host = %q\n", a.ProxmoxHost)
	b.WriteString("user = \"root\"\n")
	fmt.Fprintf(&b, "password = %q\n", a.ProxmoxPassword)
	b.WriteString("# known_hosts, fingerprint or insecure\n")
	b.WriteString("host_key_policy = \"known_hosts\"\n")
	b.WriteString("command_timeout = \"5m\"\n\n")

	b.WriteString("[guest]\n")
	b.WriteString("seed_from_host = true\n\n")

	b.WriteString("[audit]\n")
	b.WriteString("# webhook_url = \"https://discord.com/api/webhooks/...\"\n")
	b.WriteString("record_failures = false\n\n")

	b.WriteString("[logging]\n")
	b.WriteString("level = \"info\"\n")
	return b.String()
}
