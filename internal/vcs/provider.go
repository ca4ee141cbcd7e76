// Package vcs models buildable revisions and provides them from a git
// repository.
package vcs

import (
	"context"
	"fmt"
	"os"
)

// Predicate decides whether a candidate revision should be built. It is
// evaluated per ref against the repository root; implementations that need
// the revision's files materialized can use CheckoutPredicate.
type Predicate func(ctx context.Context, root string, rev Revision) (bool, error)

// Provider yields the revisions to build and materializes their trees.
type Provider interface {
	// Root resolves the repository root from any path inside it.
	Root(start string) (string, error)

	// Name returns the filesystem-safe name used for a revision's output
	// subdirectory.
	Name(rev Revision) string

	// Revisions lists all revisions passing the provider's configured
	// filters and the optional predicate. Order is unspecified.
	Revisions(ctx context.Context, root string, predicate Predicate) ([]Revision, error)

	// Checkout extracts a revision's tree into dest.
	Checkout(ctx context.Context, root string, rev Revision, dest string) error
}

// AncestryProvider is implemented by providers that can answer commit
// ancestry queries, enabling the closest-predecessor selection policy.
type AncestryProvider interface {
	// IsAncestor reports whether ancestor is reachable from descendant.
	IsAncestor(ctx context.Context, root string, ancestor, descendant Revision) (bool, error)
}

// CheckoutPredicate wraps a predicate that needs the revision's files on
// disk. The revision is extracted into a temporary directory which is
// removed before returning, so the probe checkout never leaks into the
// build.
func CheckoutPredicate(p Provider, inner func(ctx context.Context, dir string, rev Revision) (bool, error)) Predicate {
	return func(ctx context.Context, root string, rev Revision) (bool, error) {
		dir, err := os.MkdirTemp("", "polybuild-probe-")
		if err != nil {
			return false, fmt.Errorf("create probe dir: %w", err)
		}
		defer os.RemoveAll(dir)

		if err := p.Checkout(ctx, root, rev, dir); err != nil {
			return false, fmt.Errorf("probe checkout of %s: %w", rev.Name, err)
		}
		return inner(ctx, dir, rev)
	}
}
