// ABOUTME: Role-based authorization gate for privileged bot commands
// ABOUTME: Allows a requester iff their roles intersect the configured authorized roles

package auth

import (
	"errors"
	"sort"
	"strings"
)

// ErrAuthorizationDenied is returned when a requester holds none of the authorized roles.
var ErrAuthorizationDenied = errors.New("authorization denied")

// Decision is the outcome of an authorization check.
type Decision struct {
	Allowed bool
	Reason  string
	// Matched lists the requester roles that granted access, sorted.
	Matched []string
}

// Err returns ErrAuthorizationDenied for a deny decision and nil otherwise.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return ErrAuthorizationDenied
}

// Check decides whether a requester holding requesterRoles may invoke a privileged
// operation. It allows iff the two role sets intersect. An empty authorized set denies
// every requester. Empty role identifiers never match.
func Check(requesterRoles, authorizedRoles []string) Decision {
	authorized := make(map[string]struct{}, len(authorizedRoles))
	for _, r := range authorizedRoles {
		if r = strings.TrimSpace(r); r != "" {
			authorized[r] = struct{}{}
		}
	}
	if len(authorized) == 0 {
		return Decision{Reason: "no authorized roles configured"}
	}

	seen := make(map[string]struct{})
	var matched []string
	for _, r := range requesterRoles {
		r = strings.TrimSpace(r)
		if _, ok := authorized[r]; !ok {
			continue
		}
		if _, dup := seen[r]; dup {
			continue
		}
		seen[r] = struct{}{}
		matched = append(matched, r)
	}

	if len(matched) == 0 {
		return Decision{Reason: "requester holds none of the authorized roles"}
	}

	sort.Strings(matched)
	return Decision{
		Allowed: true,
		Reason:  "matched role " + strings.Join(matched, ", "),
		Matched: matched,
	}
}
