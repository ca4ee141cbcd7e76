package vcs

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"

	"git.home.luguber.info/inful/polybuild/internal/logfields"
)

// Git provides revisions from a local git repository. Branch and tag names
// must fully match the configured expressions; refs of other kinds are
// ignored.
type Git struct {
	branchRegex *regexp.Regexp
	tagRegex    *regexp.Regexp
	remote      string // limit to this remote; "" means local refs only
}

// GitOption configures a Git provider.
type GitOption func(*Git)

// WithRemote limits ref enumeration to remote-tracking refs of the named
// remote instead of local refs.
func WithRemote(remote string) GitOption {
	return func(g *Git) { g.remote = remote }
}

// NewGit creates a git revision provider. The regexes are anchored so they
// must match the whole branch or tag name.
func NewGit(branchRegex, tagRegex string, opts ...GitOption) (*Git, error) {
	br, err := regexp.Compile("^(?:" + branchRegex + ")$")
	if err != nil {
		return nil, fmt.Errorf("invalid branch regex %q: %w", branchRegex, err)
	}
	tr, err := regexp.Compile("^(?:" + tagRegex + ")$")
	if err != nil {
		return nil, fmt.Errorf("invalid tag regex %q: %w", tagRegex, err)
	}

	g := &Git{branchRegex: br, tagRegex: tr}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Root resolves the repository worktree root from any path inside it.
func (g *Git) Root(start string) (string, error) {
	repo, err := git.PlainOpenWithOptions(start, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return "", fmt.Errorf("open repository at %s: %w", start, err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("resolve worktree: %w", err)
	}
	return wt.Filesystem.Root(), nil
}

// Name returns the filesystem-safe output name for a revision.
func (g *Git) Name(rev Revision) string {
	return SafeName(rev.Name)
}

// Revisions enumerates branch and tag refs, applies the name filters and the
// optional predicate, and returns the surviving revisions. Order is
// unspecified.
func (g *Git) Revisions(ctx context.Context, root string, predicate Predicate) ([]Revision, error) {
	repo, err := git.PlainOpen(root)
	if err != nil {
		return nil, fmt.Errorf("open repository at %s: %w", root, err)
	}

	iter, err := repo.References()
	if err != nil {
		return nil, fmt.Errorf("list references: %w", err)
	}

	var revs []Revision
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if ref.Type() != plumbing.HashReference {
			return nil
		}

		rev, ok := g.classify(repo, ref)
		if !ok {
			return nil
		}
		if !g.matches(rev) {
			return nil
		}

		if predicate != nil {
			keep, err := predicate(ctx, root, rev)
			if err != nil {
				return fmt.Errorf("predicate for %s: %w", rev.Name, err)
			}
			if !keep {
				slog.Debug("Revision filtered out by predicate", logfields.Revision(rev.Name))
				return nil
			}
		}

		revs = append(revs, rev)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return revs, nil
}

// classify maps a git ref to a Revision, resolving annotated tags to their
// target commit. Returns false for refs that are neither branches nor tags.
func (g *Git) classify(repo *git.Repository, ref *plumbing.Reference) (Revision, bool) {
	name := ref.Name()

	var (
		kind   RefKind
		short  string
		remote string
	)
	switch {
	case name.IsBranch():
		kind = KindBranch
		short = name.Short()
	case name.IsTag():
		kind = KindTag
		short = name.Short()
	case name.IsRemote():
		// refs/remotes/<remote>/<branch>
		rest := strings.TrimPrefix(name.String(), "refs/remotes/")
		parts := strings.SplitN(rest, "/", 2)
		if len(parts) != 2 || parts[1] == "HEAD" {
			return Revision{}, false
		}
		kind = KindBranch
		remote = parts[0]
		short = parts[1]
	default:
		return Revision{}, false
	}

	hash := ref.Hash()
	if tag, err := repo.TagObject(hash); err == nil {
		// annotated tag: follow to the commit
		commit, err := tag.Commit()
		if err != nil {
			slog.Warn("Skipping tag without commit target", logfields.Ref(name.String()), logfields.Error(err))
			return Revision{}, false
		}
		hash = commit.Hash
	}

	commit, err := repo.CommitObject(hash)
	if err != nil {
		slog.Warn("Skipping ref without commit", logfields.Ref(name.String()), logfields.Error(err))
		return Revision{}, false
	}

	return Revision{
		Name:   short,
		Hash:   commit.Hash.String(),
		Ref:    name.String(),
		Kind:   kind,
		Date:   commit.Committer.When,
		Remote: remote,
	}, true
}

// matches applies the remote limit and the branch/tag name regexes.
func (g *Git) matches(rev Revision) bool {
	if rev.Remote != g.remote {
		return false
	}
	switch rev.Kind {
	case KindBranch:
		return g.branchRegex.MatchString(rev.Name)
	case KindTag:
		return g.tagRegex.MatchString(rev.Name)
	}
	return false
}

// Checkout extracts the revision's tree into dest. Regular files, executable
// bits and symlinks are reproduced; dest must exist.
func (g *Git) Checkout(ctx context.Context, root string, rev Revision, dest string) error {
	repo, err := git.PlainOpen(root)
	if err != nil {
		return fmt.Errorf("open repository at %s: %w", root, err)
	}
	commit, err := repo.CommitObject(plumbing.NewHash(rev.Hash))
	if err != nil {
		return fmt.Errorf("resolve commit %s: %w", rev.ShortHash(), err)
	}
	tree, err := commit.Tree()
	if err != nil {
		return fmt.Errorf("resolve tree of %s: %w", rev.ShortHash(), err)
	}

	return tree.Files().ForEach(func(f *object.File) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		target := filepath.Join(dest, filepath.FromSlash(f.Name))
		if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
			return fmt.Errorf("create directory for %s: %w", f.Name, err)
		}

		if f.Mode == filemode.Symlink {
			link, err := f.Contents()
			if err != nil {
				return fmt.Errorf("read symlink %s: %w", f.Name, err)
			}
			return os.Symlink(link, target)
		}

		mode := os.FileMode(0o644)
		if f.Mode == filemode.Executable {
			mode = 0o755
		}
		reader, err := f.Reader()
		if err != nil {
			return fmt.Errorf("read %s: %w", f.Name, err)
		}
		defer reader.Close()

		out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
		if err != nil {
			return fmt.Errorf("create %s: %w", f.Name, err)
		}
		defer out.Close()

		if _, err := io.Copy(out, reader); err != nil {
			return fmt.Errorf("write %s: %w", f.Name, err)
		}
		return nil
	})
}

// IsAncestor reports whether ancestor is reachable from descendant.
func (g *Git) IsAncestor(ctx context.Context, root string, ancestor, descendant Revision) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	repo, err := git.PlainOpen(root)
	if err != nil {
		return false, fmt.Errorf("open repository at %s: %w", root, err)
	}
	a, err := repo.CommitObject(plumbing.NewHash(ancestor.Hash))
	if err != nil {
		return false, fmt.Errorf("resolve commit %s: %w", ancestor.ShortHash(), err)
	}
	d, err := repo.CommitObject(plumbing.NewHash(descendant.Hash))
	if err != nil {
		return false, fmt.Errorf("resolve commit %s: %w", descendant.ShortHash(), err)
	}
	return a.IsAncestor(d)
}

// Head returns the revision the worktree currently has checked out, named
// after the given display name. Used by local mode to describe the working
// tree.
func (g *Git) Head(root, name string) (Revision, error) {
	repo, err := git.PlainOpen(root)
	if err != nil {
		return Revision{}, fmt.Errorf("open repository at %s: %w", root, err)
	}
	ref, err := repo.Head()
	if err != nil {
		return Revision{}, fmt.Errorf("resolve HEAD: %w", err)
	}
	commit, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return Revision{}, fmt.Errorf("resolve HEAD commit: %w", err)
	}
	return Revision{
		Name: name,
		Hash: commit.Hash.String(),
		Ref:  ref.Name().String(),
		Kind: KindBranch,
		Date: commit.Committer.When,
	}, nil
}

// FilePredicate returns a predicate that keeps revisions containing all the
// given paths (files or directories) in their tree. The check runs against
// the object store, no checkout is made.
func FilePredicate(paths ...string) Predicate {
	return func(ctx context.Context, root string, rev Revision) (bool, error) {
		repo, err := git.PlainOpen(root)
		if err != nil {
			return false, fmt.Errorf("open repository at %s: %w", root, err)
		}
		commit, err := repo.CommitObject(plumbing.NewHash(rev.Hash))
		if err != nil {
			return false, fmt.Errorf("resolve commit %s: %w", rev.ShortHash(), err)
		}
		tree, err := commit.Tree()
		if err != nil {
			return false, fmt.Errorf("resolve tree of %s: %w", rev.ShortHash(), err)
		}
		for _, p := range paths {
			p = strings.TrimSuffix(filepath.ToSlash(p), "/")
			if _, err := tree.File(p); err == nil {
				continue
			}
			if _, err := tree.Tree(p); err == nil {
				continue
			}
			return false, nil
		}
		return true, nil
	}
}
