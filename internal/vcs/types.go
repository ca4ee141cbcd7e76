package vcs

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// RefKind identifies the kind of ref a revision was derived from.
type RefKind string

const (
	KindBranch RefKind = "branch"
	KindTag    RefKind = "tag"
)

// Revision is one buildable point in the project's history. It is an
// immutable value; identity is (Name, Hash).
type Revision struct {
	Name   string    `json:"name"`   // branch or tag name
	Hash   string    `json:"hash"`   // commit hash the ref points at
	Ref    string    `json:"ref"`    // full ref name, e.g. refs/tags/v1.0
	Kind   RefKind   `json:"kind"`   // branch or tag
	Date   time.Time `json:"date"`   // committer date of the referenced commit
	Remote string    `json:"remote"` // remote name for remote-tracking refs, "" for local
}

// Less orders revisions by date, with kind and name as deterministic
// tie-breaks (tags sort before branches on equal dates).
func (r Revision) Less(other Revision) bool {
	if !r.Date.Equal(other.Date) {
		return r.Date.Before(other.Date)
	}
	if r.Kind != other.Kind {
		return r.Kind == KindTag
	}
	return r.Name < other.Name
}

// Equal reports identity, which is (Name, Hash).
func (r Revision) Equal(other Revision) bool {
	return r.Name == other.Name && r.Hash == other.Hash
}

// ShortHash returns an abbreviated commit hash for log output.
func (r Revision) ShortHash() string {
	if len(r.Hash) > 8 {
		return r.Hash[:8]
	}
	return r.Hash
}

func (r Revision) String() string {
	return fmt.Sprintf("%s (%s %s)", r.Name, r.Kind, r.ShortHash())
}

// SafeName maps a revision name to a filesystem-safe directory name.
// The name is NFC-normalized so that visually identical names collide
// instead of silently producing distinct directories.
func SafeName(name string) string {
	s := norm.NFC.String(strings.TrimSpace(name))
	replacer := strings.NewReplacer(
		"/", "-",
		"\\", "-",
		":", "-",
		"*", "-",
		"?", "-",
		"\"", "-",
		"<", "-",
		">", "-",
		"|", "-",
		"\x00", "-",
	)
	s = replacer.Replace(s)
	s = strings.Trim(s, ". ")
	if s == "" {
		s = "unnamed"
	}
	return s
}

// SortRevisions sorts in place into the canonical order (oldest first).
func SortRevisions(revs []Revision) {
	sort.Slice(revs, func(i, j int) bool { return revs[i].Less(revs[j]) })
}
