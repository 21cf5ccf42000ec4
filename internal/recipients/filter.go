package recipients

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/Craig-0219/potato-autoA/internal/config"
)

// Set is a membership list of identifiers.
type Set map[string]struct{}

// Has reports whether id is in the set.
func (s Set) Has(id string) bool {
	if id == "" {
		return false
	}
	_, ok := s[id]
	return ok
}

// LoadSet reads one identifier per line. Blank lines and lines starting
// with '#' are ignored; only the first comma-separated field counts. An
// empty path yields an empty set.
func LoadSet(path string) (Set, error) {
	if path == "" {
		return Set{}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open list: %w", err)
	}
	defer f.Close()
	return ParseSet(f)
}

// ParseSet reads identifiers from r.
func ParseSet(r io.Reader) (Set, error) {
	set := Set{}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(strings.TrimPrefix(scanner.Text(), "\ufeff"))
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if i := strings.IndexByte(line, ','); i >= 0 {
			line = strings.TrimSpace(line[:i])
		}
		if line != "" {
			set[line] = struct{}{}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read list: %w", err)
	}
	return set, nil
}

// Skip reasons recorded for filtered recipients.
const (
	SkipBlacklisted  = "blacklisted"
	SkipUnsubscribed = "unsubscribed"
)

// Filter decides blacklist and unsubscribe membership under an explicit
// match policy:
//
//	id_only       match on uid only
//	id_then_name  match on uid when present, otherwise on name
//	id_or_name    match on uid or on name
type Filter struct {
	policy      string
	blacklist   Set
	unsubscribe Set
}

// NewFilter creates a Filter. An empty policy means id_then_name.
func NewFilter(policy string, blacklist, unsubscribe Set) *Filter {
	if policy == "" {
		policy = config.MatchIDThenName
	}
	if blacklist == nil {
		blacklist = Set{}
	}
	if unsubscribe == nil {
		unsubscribe = Set{}
	}
	return &Filter{policy: policy, blacklist: blacklist, unsubscribe: unsubscribe}
}

// Policy returns the match policy in effect.
func (f *Filter) Policy() string {
	return f.policy
}

func (f *Filter) matches(set Set, r Recipient) bool {
	switch f.policy {
	case config.MatchIDOnly:
		return set.Has(r.UID)
	case config.MatchIDOrName:
		return set.Has(r.UID) || set.Has(r.Name)
	default:
		if r.UID != "" {
			return set.Has(r.UID)
		}
		return set.Has(r.Name)
	}
}

// IsBlacklisted reports blacklist membership.
func (f *Filter) IsBlacklisted(r Recipient) bool {
	return f.matches(f.blacklist, r)
}

// IsUnsubscribed reports unsubscribe membership.
func (f *Filter) IsUnsubscribed(r Recipient) bool {
	return f.matches(f.unsubscribe, r)
}

// SkipReason returns why r must be skipped, or "" when it is eligible.
func (f *Filter) SkipReason(r Recipient) string {
	switch {
	case f.IsBlacklisted(r):
		return SkipBlacklisted
	case f.IsUnsubscribed(r):
		return SkipUnsubscribed
	default:
		return ""
	}
}
