// Package selector maps revisions to named builder/environment
// configurations. The empty key designates the default configuration.
package selector

import (
	"context"

	"git.home.luguber.info/inful/polybuild/internal/util/sets"
	"git.home.luguber.info/inful/polybuild/internal/vcs"
)

// DefaultKey selects the default configuration.
const DefaultKey = ""

// Selector picks the configuration key to use for a revision. Selection is
// a pure function of the revision and the frozen target set.
type Selector interface {
	Select(ctx context.Context, rev vcs.Revision, all []vcs.Revision) (string, error)
}

// Static always selects the default configuration.
type Static struct{}

func (Static) Select(_ context.Context, _ vcs.Revision, _ []vcs.Revision) (string, error) {
	return DefaultKey, nil
}

// Mapping selects the revision's own name when it is explicitly configured
// and falls back to the default otherwise.
type Mapping struct {
	Keys sets.Set[string]
}

// NewMapping creates a Mapping selector over the explicitly configured keys.
func NewMapping(keys ...string) Mapping {
	return Mapping{Keys: sets.New(keys...)}
}

func (m Mapping) Select(_ context.Context, rev vcs.Revision, _ []vcs.Revision) (string, error) {
	if m.Keys.Has(rev.Name) {
		return rev.Name, nil
	}
	return DefaultKey, nil
}

// ClosestPredecessor selects the configuration of the nearest configured
// ancestor revision, letting configuration evolve across history without
// listing every revision. Candidates are scanned latest-first, so when two
// candidates share an ordering key the later entry wins. Revisions with no
// configured ancestor get the default.
type ClosestPredecessor struct {
	Keys     sets.Set[string]
	Ancestry vcs.AncestryProvider
	Root     string
}

// NewClosestPredecessor creates the selector for the configured keys.
func NewClosestPredecessor(ancestry vcs.AncestryProvider, root string, keys ...string) ClosestPredecessor {
	return ClosestPredecessor{Keys: sets.New(keys...), Ancestry: ancestry, Root: root}
}

func (c ClosestPredecessor) Select(ctx context.Context, rev vcs.Revision, all []vcs.Revision) (string, error) {
	if c.Keys.Has(rev.Name) {
		return rev.Name, nil
	}

	candidates := make([]vcs.Revision, 0, len(c.Keys))
	for _, r := range all {
		if c.Keys.Has(r.Name) {
			candidates = append(candidates, r)
		}
	}
	vcs.SortRevisions(candidates)

	for i := len(candidates) - 1; i >= 0; i-- {
		ok, err := c.Ancestry.IsAncestor(ctx, c.Root, candidates[i], rev)
		if err != nil {
			return "", err
		}
		if ok {
			return candidates[i].Name, nil
		}
	}
	return DefaultKey, nil
}
