// Package artifact maps local git checkouts to depi resources. A resource group is
// a repository, its version is the HEAD commit and resource urls are paths from the
// repository root.
package artifact

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dyluth/depi/pkg/depi"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// ToolID is the tool id of every resource this package resolves.
const ToolID = "git"

const opResolve = "resolve"

// Location is where a local path sits in depi terms.
type Location struct {
	// Root is the absolute path of the working tree.
	Root              string
	ResourceGroupURL  string
	ResourceGroupName string
	Version           string
	// RelativePath is the resource url: slash separated, rooted at "/", with a
	// trailing "/" for directories.
	RelativePath string
	// Uncommitted is set when the path has changes HEAD does not contain.
	Uncommitted bool
}

// PathDivider separates the segments of every url this package produces.
const PathDivider = "/"

// Group returns the resource group of the location.
func (l *Location) Group() depi.ResourceGroup {
	return depi.ResourceGroup{
		ResourceGroupRef: depi.ResourceGroupRef{ToolID: ToolID, URL: l.ResourceGroupURL},
		Name:             l.ResourceGroupName,
		Version:          l.Version,
		PathDivider:      PathDivider,
	}
}

// Resource returns the resource at the location.
func (l *Location) Resource() depi.Resource {
	return depi.Resource{
		ResourceRef: depi.ResourceRef{
			ToolID:           ToolID,
			ResourceGroupURL: l.ResourceGroupURL,
			URL:              l.RelativePath,
		},
		ResourceGroupName:    l.ResourceGroupName,
		ResourceGroupVersion: l.Version,
		Name:                 filepath.Base(strings.TrimSuffix(l.RelativePath, "/")),
	}
}

// Resolver resolves paths inside git working trees.
type Resolver struct {
	// Remote names the remote whose url identifies the group. Defaults to origin.
	Remote string
}

// NewResolver creates a resolver that identifies groups by their origin url.
func NewResolver() *Resolver {
	return &Resolver{Remote: "origin"}
}

// IsRepository reports whether dir is inside a git working tree.
func (r *Resolver) IsRepository(dir string) (bool, error) {
	_, err := open(dir)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Root returns the absolute path of the working tree containing dir.
func (r *Resolver) Root(dir string) (string, error) {
	repo, err := openRepo(dir)
	if err != nil {
		return "", err
	}
	wt, err := repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("failed to open worktree: %w", err)
	}
	return wt.Filesystem.Root(), nil
}

// Resolve maps path to its group url, version and relative path.
func (r *Resolver) Resolve(path string) (*Location, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, depi.Errorf(depi.KindNotFound, opResolve, "%s: %v", path, err)
	}
	dir := abs
	if !info.IsDir() {
		dir = filepath.Dir(abs)
	}

	repo, err := openRepo(dir)
	if err != nil {
		return nil, err
	}
	wt, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("failed to open worktree: %w", err)
	}
	root := wt.Filesystem.Root()

	head, err := repo.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return nil, depi.Errorf(depi.KindInvalid, opResolve, "repository %s has no commits", root)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read HEAD: %w", err)
	}

	rel, err := filepath.Rel(root, abs)
	if err != nil || strings.HasPrefix(rel, "..") {
		return nil, depi.Errorf(depi.KindInvalid, opResolve, "%s is outside %s", path, root)
	}
	relPath := "/"
	if rel != "." {
		relPath += filepath.ToSlash(rel)
		if info.IsDir() {
			relPath += "/"
		}
	}

	url := r.groupURL(repo, root)
	loc := &Location{
		Root:              root,
		ResourceGroupURL:  url,
		ResourceGroupName: groupName(url),
		Version:           head.Hash().String(),
		RelativePath:      relPath,
	}

	status, err := statusOf(wt)
	if err != nil {
		return nil, err
	}
	loc.Uncommitted = status.touches(relPath)
	return loc, nil
}

// Status returns the uncommitted changes of the working tree containing dir.
func (r *Resolver) Status(dir string) (*WorkStatus, error) {
	repo, err := openRepo(dir)
	if err != nil {
		return nil, err
	}
	wt, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("failed to open worktree: %w", err)
	}
	return statusOf(wt)
}

func (r *Resolver) groupURL(repo *git.Repository, root string) string {
	name := r.Remote
	if name == "" {
		name = "origin"
	}
	remote, err := repo.Remote(name)
	if err == nil && len(remote.Config().URLs) > 0 {
		return remote.Config().URLs[0]
	}
	return root
}

func groupName(url string) string {
	url = strings.TrimSuffix(strings.TrimSuffix(url, "/"), ".git")
	if i := strings.LastIndexAny(url, "/:"); i >= 0 {
		return url[i+1:]
	}
	return url
}

func open(dir string) (*git.Repository, error) {
	return git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
}

func openRepo(dir string) (*git.Repository, error) {
	repo, err := open(dir)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, depi.Errorf(depi.KindNotFound, opResolve, "%s is not inside a git repository", dir)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open repository: %w", err)
	}
	return repo, nil
}

// WorkStatus lists uncommitted changes by path relative to the root.
type WorkStatus struct {
	Modified  []string
	Untracked []string
}

// Clean reports whether there are no changes at all.
func (s *WorkStatus) Clean() bool {
	return len(s.Modified) == 0 && len(s.Untracked) == 0
}

// String formats the changes for messages. It is empty for a clean tree.
func (s *WorkStatus) String() string {
	var parts []string
	if len(s.Modified) > 0 {
		parts = append(parts, "Uncommitted changes:")
		for _, file := range s.Modified {
			parts = append(parts, " M "+file)
		}
	}
	if len(s.Untracked) > 0 {
		if len(parts) > 0 {
			parts = append(parts, "")
		}
		parts = append(parts, "Untracked files:")
		for _, file := range s.Untracked {
			parts = append(parts, "?? "+file)
		}
	}
	return strings.Join(parts, "\n")
}

// touches reports whether a change lies at or below the resource url relPath.
func (s *WorkStatus) touches(relPath string) bool {
	prefix := strings.TrimPrefix(relPath, "/")
	for _, list := range [][]string{s.Modified, s.Untracked} {
		for _, file := range list {
			if prefix == "" || file == prefix || (strings.HasSuffix(prefix, "/") && strings.HasPrefix(file, prefix)) {
				return true
			}
		}
	}
	return false
}

func statusOf(wt *git.Worktree) (*WorkStatus, error) {
	st, err := wt.Status()
	if err != nil {
		return nil, fmt.Errorf("failed to check git status: %w", err)
	}
	ws := &WorkStatus{}
	for file, fs := range st {
		switch {
		case fs.Worktree == git.Untracked:
			ws.Untracked = append(ws.Untracked, file)
		case fs.Worktree != git.Unmodified || fs.Staging != git.Unmodified:
			ws.Modified = append(ws.Modified, file)
		}
	}
	sort.Strings(ws.Modified)
	sort.Strings(ws.Untracked)
	return ws, nil
}
