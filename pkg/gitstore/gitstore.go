// Package gitstore keeps configuration snapshots as files in a git repository. Every
// persisted snapshot is a commit, so the repository history is the audit trail.
package gitstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/macfound/configaudit/pkg/snapshot"
	"github.com/moby/sys/atomicwriter"
)

const (
	defaultCommitterName  = "configaudit"
	defaultCommitterEmail = "configaudit@localhost"
)

// Logger is the subset of logrus used by the store.
type Logger interface {
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Debugf(format string, args ...interface{})
}

type nopLogger struct{}

func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Warnf(string, ...interface{})  {}
func (nopLogger) Debugf(string, ...interface{}) {}

type Options struct {
	// Remote is the URL prefix repositories are cloned from; the repository name of
	// the identifier is appended to it.
	Remote string
	Branch string
	// WorkDir holds the working copies. It must be private to this process.
	WorkDir string
	// SSHCommand is exported as GIT_SSH_COMMAND when set.
	SSHCommand string

	CommitterName  string
	CommitterEmail string

	Log Logger
}

// Store is a snapshot.Store backed by shallow clones of a git remote.
type Store struct {
	opts Options

	mu     sync.Mutex
	clones map[string]string
}

var _ snapshot.Store = (*Store)(nil)

func New(opts Options) *Store {
	if opts.Branch == "" {
		opts.Branch = "main"
	}
	if opts.CommitterName == "" {
		opts.CommitterName = defaultCommitterName
	}
	if opts.CommitterEmail == "" {
		opts.CommitterEmail = defaultCommitterEmail
	}
	if opts.Log == nil {
		opts.Log = nopLogger{}
	}
	opts.Remote = strings.TrimRight(opts.Remote, "/")
	return &Store{opts: opts, clones: make(map[string]string)}
}

// GetPrevious clones the repository fresh and reads the snapshot file.
func (s *Store) GetPrevious(ctx context.Context, id snapshot.Identifier) (*snapshot.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir, err := s.clone(ctx, id.Repository)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", snapshot.ErrStoreUnavailable, err)
	}

	data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(id.Key())))
	if errors.Is(err, os.ErrNotExist) {
		s.opts.Log.Infof("No Previous Version Exists For: %s", id)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", snapshot.ErrStoreUnavailable, id, err)
	}
	return &snapshot.Snapshot{Raw: string(data)}, nil
}

// PutCurrent writes the snapshot file, commits it and pushes. If any step fails the
// working copy is reset to the remote branch so it keeps showing the old snapshot.
func (s *Store) PutCurrent(ctx context.Context, id snapshot.Identifier, snap snapshot.Snapshot, commit snapshot.Commit) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir, ok := s.clones[id.Repository]
	if !ok {
		if dir, err = s.clone(ctx, id.Repository); err != nil {
			return fmt.Errorf("%w: %v", snapshot.ErrStoreWriteFailed, err)
		}
	}

	defer func() {
		if err == nil {
			return
		}
		if _, rerr := s.git(context.Background(), dir, "reset", "--hard", "origin/"+s.opts.Branch); rerr != nil {
			s.opts.Log.Infof("Could not reset working copy %s: %v", dir, rerr)
		}
		err = fmt.Errorf("%w: %s: %v", snapshot.ErrStoreWriteFailed, id, err)
	}()

	path := filepath.Join(dir, filepath.FromSlash(id.Key()))
	if err = os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if err = atomicwriter.WriteFile(path, []byte(snap.Raw), 0o644); err != nil {
		return err
	}

	s.opts.Log.Infof("Adding %s", id.Key())
	if _, err = s.git(ctx, dir, "add", "--", id.Key()); err != nil {
		return err
	}
	if _, qerr := s.git(ctx, dir, "diff", "--cached", "--quiet"); qerr == nil {
		s.opts.Log.Infof("Snapshot %s is already up to date", id)
		return nil
	}

	args := []string{
		"-c", "user.name=" + s.opts.CommitterName,
		"-c", "user.email=" + s.opts.CommitterEmail,
		"commit", "-m", commit.Message,
	}
	if author := commit.Author.FullName(); author != "" {
		email := commit.Author.Email
		if email == "" {
			email = s.opts.CommitterEmail
		}
		args = append(args, "--author", fmt.Sprintf("%s <%s>", author, email))
	}
	if !commit.Timestamp.IsZero() {
		args = append(args, "--date", commit.Timestamp.Format("2006-01-02T15:04:05Z07:00"))
	}
	if _, err = s.git(ctx, dir, args...); err != nil {
		return err
	}
	if _, err = s.git(ctx, dir, "push", "origin", "HEAD:"+s.opts.Branch); err != nil {
		return err
	}

	// The commit is on the remote from here on; nothing below fails the write.
	// origin/<branch> follows the push so a later rollback keeps this commit.
	if _, uerr := s.git(ctx, dir, "update-ref", "refs/remotes/origin/"+s.opts.Branch, "HEAD"); uerr != nil {
		s.opts.Log.Warnf("Pushed %s but could not move origin/%s in %s: %v", id, s.opts.Branch, dir, uerr)
	}
	return nil
}

// Cleanup removes every working copy created by the store.
func (s *Store) Cleanup() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for repo, dir := range s.clones {
		s.opts.Log.Debugf("Removing working copy %s", dir)
		if err := os.RemoveAll(dir); err != nil {
			errs = append(errs, err)
		}
		delete(s.clones, repo)
	}
	return errors.Join(errs...)
}

func (s *Store) clone(ctx context.Context, repo string) (string, error) {
	dir := filepath.Join(s.opts.WorkDir, repo)
	if err := os.RemoveAll(dir); err != nil {
		return "", err
	}
	if err := os.MkdirAll(s.opts.WorkDir, 0o755); err != nil {
		return "", err
	}

	url := s.opts.Remote + "/" + repo
	s.opts.Log.Infof("Cloning Git Repository: %s", repo)
	if _, err := s.git(ctx, s.opts.WorkDir, "clone", "--depth", "1", "--branch", s.opts.Branch, url, dir); err != nil {
		return "", err
	}
	s.clones[repo] = dir
	return dir, nil
}

func (s *Store) git(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	if s.opts.SSHCommand != "" {
		cmd.Env = append(cmd.Env, "GIT_SSH_COMMAND="+s.opts.SSHCommand)
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("git %s: %v: %s", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}
