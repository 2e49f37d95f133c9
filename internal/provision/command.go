// ABOUTME: Renders validated requests into a Proxmox pct create argument vector
// ABOUTME: Also parses a rendered command back, used to check that rendering is lossless

package provision

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/kballard/go-shellquote"
)

var (
	imagePattern = regexp.MustCompile(`^[a-zA-Z0-9._-]+:[a-zA-Z0-9._/-]+$`)
	namePattern  = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)
)

// redactedSecret replaces the guest password in logged commands.
const redactedSecret = "********"

// Template holds the fixed fields of every created guest.
type Template struct {
	Image     string // e.g. local:vztmpl/debian-12-standard_12.7-1_amd64.tar.zst
	Storage   string // rootfs storage pool, e.g. local-lvm
	Bridge    string // e.g. vmbr0
	Interface string // guest NIC name, e.g. eth0
}

// Validate checks the template against the same allow-lists applied to user input.
func (t Template) Validate() error {
	if !imagePattern.MatchString(t.Image) {
		return invalid("template.image", "%q is not a <storage>:<volume> reference", t.Image)
	}
	if !namePattern.MatchString(t.Storage) {
		return invalid("template.storage", "%q is not a storage name", t.Storage)
	}
	if !namePattern.MatchString(t.Bridge) {
		return invalid("template.bridge", "%q is not a bridge name", t.Bridge)
	}
	if !namePattern.MatchString(t.Interface) {
		return invalid("template.interface", "%q is not an interface name", t.Interface)
	}
	return nil
}

// Command is a remote command as an argument vector. It is never assembled by
// concatenating user input into a shell string.
type Command struct {
	Argv []string

	secret string
}

// NewCommand wraps an argument vector.
func NewCommand(argv ...string) Command {
	return Command{Argv: argv}
}

// String renders the argument vector with every argument shell-quoted. This is the
// exact text sent to the remote shell.
func (c Command) String() string {
	return shellquote.Join(c.Argv...)
}

// Redacted renders the command with the guest password masked, for logs.
func (c Command) Redacted() string {
	if c.secret == "" {
		return c.String()
	}
	argv := make([]string, len(c.Argv))
	for i, a := range c.Argv {
		if a == c.secret {
			a = redactedSecret
		}
		argv[i] = a
	}
	return shellquote.Join(argv...)
}

// Spec is a fully built provisioning operation.
type Spec struct {
	GuestID  int
	Hostname string
	MemoryMB int
	Cores    int
	Disk     string
	Password string
	Command  Command
}

// Builder turns requests into Specs. It is safe for concurrent use.
type Builder struct {
	template  Template
	ids       *Allocator
	passwords func() (string, error)
}

// NewBuilder creates a builder for the given template and id allocator.
func NewBuilder(t Template, ids *Allocator) (*Builder, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	if ids == nil {
		return nil, fmt.Errorf("allocator is required")
	}
	return &Builder{
		template: t,
		ids:      ids,
		passwords: func() (string, error) {
			return GeneratePassword(DefaultPasswordLength)
		},
	}, nil
}

// Build validates req and renders its command. A guest id and password are only
// consumed once validation has passed.
func (b *Builder) Build(req Request) (*Spec, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	password, err := b.passwords()
	if err != nil {
		return nil, fmt.Errorf("generating guest password: %w", err)
	}

	guestID := b.ids.Next()
	argv := []string{
		"pct", "create", strconv.Itoa(guestID), b.template.Image,
		"--memory", strconv.Itoa(req.MemoryMB),
		"--cores", strconv.Itoa(req.Cores),
		"--rootfs", b.template.Storage + ":" + req.Disk,
		"--net0", fmt.Sprintf("name=%s,bridge=%s,firewall=1", b.template.Interface, b.template.Bridge),
		"--hostname", req.Customer,
		"--password", password,
		"--start", "1",
	}

	return &Spec{
		GuestID:  guestID,
		Hostname: req.Customer,
		MemoryMB: req.MemoryMB,
		Cores:    req.Cores,
		Disk:     req.Disk,
		Password: password,
		Command:  Command{Argv: argv, secret: password},
	}, nil
}

// Recovered holds the fields read back out of a rendered pct create command.
type Recovered struct {
	GuestID  int
	Image    string
	MemoryMB int
	Cores    int
	Storage  string
	Disk     string
	Net0     string
	Hostname string
	Start    bool
}

// ParseCommand parses the output of Command.String for a pct create invocation.
func ParseCommand(s string) (*Recovered, error) {
	argv, err := shellquote.Split(s)
	if err != nil {
		return nil, fmt.Errorf("splitting command: %w", err)
	}
	if len(argv) < 4 || argv[0] != "pct" || argv[1] != "create" {
		return nil, fmt.Errorf("not a pct create command")
	}

	r := &Recovered{Image: argv[3]}
	if r.GuestID, err = strconv.Atoi(argv[2]); err != nil {
		return nil, fmt.Errorf("parsing guest id %q: %w", argv[2], err)
	}

	flags := argv[4:]
	if len(flags)%2 != 0 {
		return nil, fmt.Errorf("dangling flag %q", flags[len(flags)-1])
	}
	for i := 0; i < len(flags); i += 2 {
		name, value := flags[i], flags[i+1]
		switch name {
		case "--memory":
			if r.MemoryMB, err = strconv.Atoi(value); err != nil {
				return nil, fmt.Errorf("parsing memory %q: %w", value, err)
			}
		case "--cores":
			if r.Cores, err = strconv.Atoi(value); err != nil {
				return nil, fmt.Errorf("parsing cores %q: %w", value, err)
			}
		case "--rootfs":
			storage, disk, ok := strings.Cut(value, ":")
			if !ok {
				return nil, fmt.Errorf("rootfs %q has no storage prefix", value)
			}
			r.Storage, r.Disk = storage, disk
		case "--net0":
			r.Net0 = value
		case "--hostname":
			r.Hostname = value
		case "--start":
			r.Start = value == "1"
		case "--password":
		default:
			return nil, fmt.Errorf("unknown flag %q", name)
		}
	}
	return r, nil
}
