// Package gitexec is a thin command wrapper around the git CLI (spec
// component C4): clone, fetch, checkout, and branch-containment queries.
// Every operation returns a boolean (or a value-or-empty-string) and never
// raises — failures are logged to the build's events stream when an
// EventLogger is attached, mirroring detergent's internal/git.Repo, whose
// methods likewise shell out to `git` and report outcomes rather than
// propagating typed errors up through callers that mostly just branch on
// success.
package gitexec

import (
	"os/exec"
	"strings"
)

// EventLogger is the subset of *buildlog.Logger the driver needs, kept as
// an interface so tests can observe logged lines without a real file.
type EventLogger interface {
	Error(format string, v ...any)
	Info(format string, v ...any)
}

type nopLogger struct{}

func (nopLogger) Error(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}

// Driver wraps git invocations rooted at a single working directory.
type Driver struct {
	dir    string
	logger EventLogger
}

// New returns a Driver whose commands run in dir. If logger is nil, errors
// are silently discarded rather than logged.
func New(dir string, logger EventLogger) *Driver {
	if logger == nil {
		logger = nopLogger{}
	}
	return &Driver{dir: dir, logger: logger}
}

// SetCwd repoints the driver at a new working directory.
func (d *Driver) SetCwd(dir string) {
	d.dir = dir
}

func (d *Driver) run(args ...string) (string, bool) {
	cmd := exec.Command("git", args...)
	cmd.Dir = d.dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		d.logger.Error("git %s: %s", strings.Join(args, " "), strings.TrimSpace(string(out)))
		return "", false
	}
	return strings.TrimSpace(string(out)), true
}

// Version returns the installed git version string, or "" if unavailable.
func (d *Driver) Version() string {
	out, ok := d.run("--version")
	if !ok {
		return ""
	}
	return out
}

// Clone clones url into dest. dest's parent must already exist; Clone
// itself does not mkdir.
func (d *Driver) Clone(url, dest string) bool {
	_, ok := d.run("clone", url, dest)
	return ok
}

// FetchInCwd fetches all remotes/tags into the current working directory.
func (d *Driver) FetchInCwd() bool {
	_, ok := d.run("fetch", "--all", "--tags", "--prune")
	return ok
}

// Checkout checks out commit, detaching HEAD.
func (d *Driver) Checkout(commit string) bool {
	_, ok := d.run("checkout", "--force", commit)
	return ok
}

// GetBranch returns the current branch name, or "" if detached/unknown.
func (d *Driver) GetBranch() string {
	out, ok := d.run("rev-parse", "--abbrev-ref", "HEAD")
	if !ok || out == "HEAD" {
		return ""
	}
	return out
}

// GetCommit returns the commit hash currently checked out.
func (d *Driver) GetCommit() string {
	out, ok := d.run("rev-parse", "HEAD")
	if !ok {
		return ""
	}
	return out
}

// BranchesForCommit returns every local branch whose tip history contains
// commit (used by the Build Preparer to infer gitBranch when a rerun
// omits it; see spec.md §4.6).
func (d *Driver) BranchesForCommit(commit string) []string {
	out, ok := d.run("for-each-ref", "--contains", commit, "--format=%(refname:short)", "refs/heads/")
	if !ok || out == "" {
		return nil
	}
	return strings.Split(out, "\n")
}
