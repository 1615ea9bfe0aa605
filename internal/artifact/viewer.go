package artifact

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dyluth/depi/pkg/depi"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// Diff returns the unified diff of the resource url relPath between version since
// and HEAD of the working tree at root. A container url diffs everything below it.
func (r *Resolver) Diff(ctx context.Context, root, relPath, since string) (string, error) {
	repo, err := openRepo(root)
	if err != nil {
		return "", err
	}
	from, err := repo.ResolveRevision(plumbing.Revision(since))
	if err != nil {
		return "", depi.Errorf(depi.KindNotFound, "diff", "unknown version %q: %v", since, err)
	}
	head, err := repo.Head()
	if err != nil {
		return "", fmt.Errorf("failed to read HEAD: %w", err)
	}

	fromTree, err := treeOf(repo.CommitObject, *from)
	if err != nil {
		return "", err
	}
	toTree, err := treeOf(repo.CommitObject, head.Hash())
	if err != nil {
		return "", err
	}

	changes, err := object.DiffTreeWithOptions(ctx, fromTree, toTree, object.DefaultDiffTreeOptions)
	if err != nil {
		return "", fmt.Errorf("failed to diff trees: %w", err)
	}

	prefix := strings.TrimPrefix(relPath, "/")
	var b strings.Builder
	for _, change := range changes {
		if !within(change.From.Name, prefix) && !within(change.To.Name, prefix) {
			continue
		}
		patch, err := change.PatchContext(ctx)
		if err != nil {
			return "", fmt.Errorf("failed to compute patch: %w", err)
		}
		b.WriteString(patch.String())
	}
	return b.String(), nil
}

func treeOf(commitObject func(plumbing.Hash) (*object.Commit, error), hash plumbing.Hash) (*object.Tree, error) {
	commit, err := commitObject(hash)
	if err != nil {
		return nil, fmt.Errorf("failed to read commit %s: %w", hash, err)
	}
	tree, err := commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("failed to read tree of %s: %w", hash, err)
	}
	return tree, nil
}

func within(name, prefix string) bool {
	if name == "" {
		return false
	}
	if prefix == "" || name == prefix {
		return true
	}
	return strings.HasSuffix(prefix, "/") && strings.HasPrefix(name, prefix)
}

// Viewer reveals and diffs resources of registered checkouts. It serves the
// reveal and diff actions of the host shell.
type Viewer struct {
	resolver *Resolver
	out      io.Writer

	// Open shows a local path to the user. When nil the path is printed to out.
	Open func(path string) error

	mu        sync.Mutex
	checkouts map[string]string
}

// NewViewer creates a viewer writing to out.
func NewViewer(r *Resolver, out io.Writer) *Viewer {
	return &Viewer{resolver: r, out: out, checkouts: make(map[string]string)}
}

// AddCheckout registers the working tree containing dir as the local copy of its group.
func (v *Viewer) AddCheckout(dir string) (*Location, error) {
	loc, err := v.resolver.Resolve(dir)
	if err != nil {
		return nil, err
	}
	v.mu.Lock()
	v.checkouts[loc.ResourceGroupURL] = loc.Root
	v.mu.Unlock()
	log.Printf("[Artifact] Checkout of %s at %s", loc.ResourceGroupURL, loc.Root)
	return loc, nil
}

// LocalPath returns where r lives on disk.
func (v *Viewer) LocalPath(r depi.Resource) (string, error) {
	if r.ToolID != ToolID {
		return "", depi.Errorf(depi.KindInvalid, "reveal", "tool %q is not served by git checkouts", r.ToolID)
	}
	v.mu.Lock()
	root, ok := v.checkouts[r.ResourceGroupURL]
	v.mu.Unlock()
	if !ok {
		return "", depi.Errorf(depi.KindNotFound, "reveal", "no local checkout of %s", r.ResourceGroupURL)
	}
	return filepath.Join(root, filepath.FromSlash(strings.TrimPrefix(r.URL, "/"))), nil
}

// Reveal shows the local copy of r.
func (v *Viewer) Reveal(ctx context.Context, r depi.Resource) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := v.LocalPath(r)
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err != nil {
		return depi.Errorf(depi.KindNotFound, "reveal", "%s: %v", r.URL, err)
	}
	if v.Open != nil {
		return v.Open(path)
	}
	_, err = fmt.Fprintln(v.out, path)
	return err
}

// ViewDiff writes the changes of r since lastCleanVersion.
func (v *Viewer) ViewDiff(ctx context.Context, r depi.Resource, lastCleanVersion string) error {
	if lastCleanVersion == "" {
		return depi.Errorf(depi.KindInvalid, "diff", "%s has no clean version to diff against", r.URL)
	}
	if _, err := v.LocalPath(r); err != nil {
		return err
	}
	v.mu.Lock()
	root := v.checkouts[r.ResourceGroupURL]
	v.mu.Unlock()

	diff, err := v.resolver.Diff(ctx, root, r.URL, lastCleanVersion)
	if err != nil {
		return err
	}
	if diff == "" {
		_, err = fmt.Fprintf(v.out, "%s: no changes since %s\n", r.URL, lastCleanVersion)
		return err
	}
	_, err = io.WriteString(v.out, diff)
	return err
}
