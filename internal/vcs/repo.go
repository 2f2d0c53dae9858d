package vcs

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/clive/pair/internal/errors"
	"github.com/clive/pair/internal/model"
)

// ErrNotRepo is returned by Open when no enclosing repository exists
var ErrNotRepo = stderrors.New("not a git repository")

// Author identifies who commits made by the session belong to
type Author struct {
	Name  string
	Email string
}

// Repo commits and undoes session changes in a git repository
type Repo struct {
	repo     *git.Repository
	root     string // worktree root
	prefix   string // session root relative to the worktree root, slash-separated
	author   Author
	mu       sync.Mutex
	sessions map[plumbing.Hash]struct{} // commits made by this session
}

// Open finds the repository enclosing sessionRoot
func Open(sessionRoot string, author Author) (*Repo, error) {
	repo, err := git.PlainOpenWithOptions(sessionRoot, &git.PlainOpenOptions{
		DetectDotGit: true,
	})
	if err != nil {
		if stderrors.Is(err, git.ErrRepositoryNotExists) {
			return nil, ErrNotRepo
		}
		return nil, fmt.Errorf("open repo: %w", err)
	}

	wt, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("get worktree: %w", err)
	}
	root := wt.Filesystem.Root()

	abs, err := filepath.Abs(sessionRoot)
	if err != nil {
		return nil, err
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	if resolved, err := filepath.EvalSymlinks(root); err == nil {
		root = resolved
	}
	prefix, err := filepath.Rel(root, abs)
	if err != nil {
		return nil, fmt.Errorf("locate session root: %w", err)
	}
	prefix = filepath.ToSlash(prefix)
	if prefix == "." {
		prefix = ""
	}

	if author.Name == "" {
		author.Name = "pair"
	}
	if author.Email == "" {
		author.Email = "pair@localhost"
	}

	return &Repo{
		repo:     repo,
		root:     root,
		prefix:   prefix,
		author:   author,
		sessions: make(map[plumbing.Hash]struct{}),
	}, nil
}

// Root returns the worktree root
func (r *Repo) Root() string { return r.root }

// repoPath converts a session-relative path to a worktree-relative one
func (r *Repo) repoPath(p string) string {
	if r.prefix == "" {
		return p
	}
	return r.prefix + "/" + p
}

// DirtyFiles returns the worktree-relative paths with uncommitted changes.
// When paths is non-empty only those session-relative paths are checked.
func (r *Repo) DirtyFiles(paths ...string) ([]string, error) {
	wt, err := r.repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("get worktree: %w", err)
	}
	status, err := wt.Status()
	if err != nil {
		return nil, fmt.Errorf("get status: %w", err)
	}

	var dirty []string
	if len(paths) == 0 {
		for file := range status {
			if isDirty(status, file) {
				dirty = append(dirty, file)
			}
		}
		sort.Strings(dirty)
		return dirty, nil
	}
	for _, p := range paths {
		if rp := r.repoPath(p); isDirty(status, rp) {
			dirty = append(dirty, rp)
		}
	}
	return dirty, nil
}

// isDirty reports whether a tracked file has staged or unstaged changes
func isDirty(status git.Status, path string) bool {
	st, ok := status[path]
	if !ok || st.Worktree == git.Untracked {
		return false
	}
	return st.Staging != git.Unmodified || st.Worktree != git.Unmodified
}

// Commit stages paths (every change when empty) and commits them. It
// returns the short hash of the new commit.
func (r *Repo) Commit(ctx context.Context, message string, paths []string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	wt, err := r.repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("get worktree: %w", err)
	}

	if len(paths) == 0 {
		if err := wt.AddWithOptions(&git.AddOptions{All: true}); err != nil {
			return "", errors.Wrap(err, errors.CodeAction, "stage all")
		}
	} else {
		for _, p := range paths {
			if _, err := wt.Add(r.repoPath(p)); err != nil {
				// never-tracked files that no longer exist cannot be staged
				continue
			}
		}
	}

	status, err := wt.Status()
	if err != nil {
		return "", fmt.Errorf("get status: %w", err)
	}
	staged := false
	for _, st := range status {
		if st.Staging != git.Unmodified && st.Staging != git.Untracked {
			staged = true
			break
		}
	}
	if !staged {
		return "", errors.New(errors.CodeAction, "Nothing to commit")
	}

	hash, err := wt.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  r.author.Name,
			Email: r.author.Email,
			When:  time.Now(),
		},
	})
	if err != nil {
		return "", errors.Wrap(err, errors.CodeAction, "commit")
	}
	r.sessions[hash] = struct{}{}
	return hash.String()[:7], nil
}

// Revert undoes the change described by d. Committed changes are undone
// by restoring the parent commit's files and moving HEAD back; uncommitted
// changes are undone from the diff's snapshots.
func (r *Repo) Revert(ctx context.Context, d *model.Diff) error {
	if d.Commit == "" {
		return FileReverter{Root: filepath.Join(r.root, filepath.FromSlash(r.prefix))}.Revert(ctx, d)
	}
	return r.UndoCommit(ctx, d.Commit)
}

// UndoCommit undoes HEAD, which must be the session commit identified by
// short or full hash.
func (r *Repo) UndoCommit(ctx context.Context, hash string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	head, err := r.repo.Head()
	if err != nil {
		return errors.Wrap(err, errors.CodeAction, "read HEAD")
	}
	if !strings.HasPrefix(head.Hash().String(), hash) {
		return errors.Newf(errors.CodeAction, "HEAD is not commit %s; it may have been amended or followed by other commits", hash)
	}
	if _, ok := r.sessions[head.Hash()]; !ok {
		return errors.New(errors.CodeAction, "The last commit was not made by pair in this chat session")
	}

	commit, err := r.repo.CommitObject(head.Hash())
	if err != nil {
		return errors.Wrap(err, errors.CodeAction, "load HEAD commit")
	}
	if commit.NumParents() == 0 {
		return errors.New(errors.CodeAction, "This is the first commit in the repository. Cannot undo.")
	}
	if commit.NumParents() > 1 {
		return errors.Newf(errors.CodeAction, "The last commit %s has more than 1 parent, can't undo.", hash)
	}

	if err := r.checkNotPushed(head); err != nil {
		return err
	}

	parent, err := commit.Parent(0)
	if err != nil {
		return errors.Wrap(err, errors.CodeAction, "load parent commit")
	}
	changed, err := changedFiles(parent, commit)
	if err != nil {
		return errors.Wrap(err, errors.CodeAction, "diff commit")
	}

	wt, err := r.repo.Worktree()
	if err != nil {
		return fmt.Errorf("get worktree: %w", err)
	}
	status, err := wt.Status()
	if err != nil {
		return fmt.Errorf("get status: %w", err)
	}
	parentTree, err := parent.Tree()
	if err != nil {
		return errors.Wrap(err, errors.CodeAction, "load parent tree")
	}

	for _, file := range changed {
		if isDirty(status, file) {
			return errors.Newf(errors.CodeAction, "The file %s has uncommitted changes. Please stash them before undoing.", file)
		}
	}

	for _, file := range changed {
		f, err := parentTree.File(file)
		if stderrors.Is(err, object.ErrFileNotFound) {
			// created by the commit
			if _, err := wt.Remove(file); err != nil {
				return errors.Wrap(err, errors.CodeAction, "remove "+file)
			}
			continue
		}
		if err != nil {
			return errors.Wrap(err, errors.CodeAction, "read "+file)
		}
		if err := restoreBlob(filepath.Join(r.root, filepath.FromSlash(file)), f); err != nil {
			return errors.Wrap(err, errors.CodeAction, "restore "+file)
		}
		if _, err := wt.Add(file); err != nil {
			return errors.Wrap(err, errors.CodeAction, "stage "+file)
		}
	}

	if err := wt.Reset(&git.ResetOptions{Commit: parent.Hash, Mode: git.SoftReset}); err != nil {
		return errors.Wrap(err, errors.CodeAction, "reset to parent")
	}
	delete(r.sessions, head.Hash())
	return nil
}

// checkNotPushed refuses to undo a commit already on the tracking remote
func (r *Repo) checkNotPushed(head *plumbing.Reference) error {
	if !head.Name().IsBranch() {
		return nil
	}
	remote := plumbing.NewRemoteReferenceName("origin", head.Name().Short())
	ref, err := r.repo.Reference(remote, true)
	if err != nil {
		return nil
	}
	if ref.Hash() == head.Hash() {
		return errors.Newf(errors.CodeAction, "The last commit has already been pushed to %s. Undoing is not allowed.", remote.Short())
	}
	return nil
}

// changedFiles lists worktree-relative paths differing between two commits
func changedFiles(from, to *object.Commit) ([]string, error) {
	fromTree, err := from.Tree()
	if err != nil {
		return nil, err
	}
	toTree, err := to.Tree()
	if err != nil {
		return nil, err
	}
	changes, err := object.DiffTree(fromTree, toTree)
	if err != nil {
		return nil, err
	}
	files := make([]string, 0, len(changes))
	for _, c := range changes {
		name := c.To.Name
		if name == "" {
			name = c.From.Name
		}
		files = append(files, name)
	}
	return files, nil
}

func restoreBlob(path string, f *object.File) error {
	rd, err := f.Reader()
	if err != nil {
		return err
	}
	defer rd.Close()

	mode, err := f.Mode.ToOSFileMode()
	if err != nil {
		mode = 0o644
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode.Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rd); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
