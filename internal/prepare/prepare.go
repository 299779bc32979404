// Package prepare implements the Build Preparer (spec component C6): it
// orchestrates the git driver, config parser, and journal to turn a raw
// ProjectBuild into a resolved pipeline, or a terminal (but non-fatal)
// preparation failure reported to the server and journal (spec.md §4.6).
package prepare

import (
	"context"
	"fmt"
	"os"

	"github.com/boxci-run/agent/internal/apiclient"
	"github.com/boxci-run/agent/internal/buildconfig"
	"github.com/boxci-run/agent/internal/buildlog"
	"github.com/boxci-run/agent/internal/gitexec"
	"github.com/boxci-run/agent/internal/journal"
)

// Outcome is the result of preparing a build: either a resolved pipeline
// ready to run, or Skip=true meaning the caller should move on to the next
// poll without running anything.
type Outcome struct {
	Pipeline *apiclient.ProjectBuildPipeline
	Skip     bool
}

// Preparer runs the clone/fetch/checkout/config/pipeline-match state
// machine for one agent's repo directory.
type Preparer struct {
	Client  *apiclient.Client
	Journal *journal.Journal
	RepoDir string
}

// Run executes the state machine in spec.md §4.6's diagram for build
// against project, logging each step to events and reporting failures to
// the server. It never returns an error: every failure path resolves to
// Outcome{Skip: true} after journalling and reporting.
func (p *Preparer) Run(ctx context.Context, project *apiclient.Project, build *apiclient.ProjectBuild, events *buildlog.Logger) Outcome {
	git := gitexec.New(p.RepoDir, events)

	if _, err := os.Stat(p.RepoDir); os.IsNotExist(err) {
		events.Info("cloning %s into %s", project.GitRepoSSHURL, p.RepoDir)
		if !git.Clone(project.GitRepoSSHURL, p.RepoDir) {
			p.reportFailure(ctx, build.ID, "errorCloning", "git clone failed")
			return Outcome{Skip: true}
		}
	}
	git.SetCwd(p.RepoDir)

	events.Info("fetching")
	if !git.FetchInCwd() {
		p.reportFailure(ctx, build.ID, "errorFetching", "git fetch failed")
		return Outcome{Skip: true}
	}

	events.Info("checking out %s", build.GitCommit)
	if !git.Checkout(build.GitCommit) {
		p.reportFailure(ctx, build.ID, "errorCommitNotFound", fmt.Sprintf("commit %s not found", build.GitCommit))
		return Outcome{Skip: true}
	}

	if build.GitBranch == "" {
		if branches := git.BranchesForCommit(build.GitCommit); len(branches) == 1 {
			build.GitBranch = branches[0]
			if err := p.Client.SetBranch(ctx, build.ID, build.GitBranch); err != nil {
				events.Error("best-effort set-branch failed: %v", err)
			}
		}
	}

	cfg, validationErrs, err := buildconfig.Load(p.RepoDir)
	if err != nil {
		detail := err.Error()
		if len(validationErrs) > 0 {
			detail = fmt.Sprintf("%s: %v", detail, validationErrs)
		}
		p.reportFailure(ctx, build.ID, "errorPreparing", detail)
		return Outcome{Skip: true}
	}

	if build.Pipeline != nil {
		events.Info("rerun: using previously resolved pipeline %q", build.Pipeline.Name)
		return Outcome{Pipeline: build.Pipeline}
	}

	ref := build.Ref()
	name, pipeline, ok := cfg.MatchPipeline(ref)
	if !ok {
		events.Info("no pipeline matches ref %q", ref)
		if err := p.Client.NoPipeline(ctx, build.ID); err != nil {
			events.Error("no-pipeline report failed: %v", err)
		}
		p.Journal.WriteBuildEvent(build.ID, map[string]any{"status": "no-pipeline"})
		return Outcome{Skip: true}
	}

	events.Info("resolved pipeline %q for ref %q", name, ref)
	if err := p.Client.SetPipeline(ctx, build.ID, pipeline); err != nil {
		events.Error("set-pipeline report failed: %v", err)
	}
	p.Journal.WriteBuildEvent(build.ID, map[string]any{"status": "pipeline-set", "pipeline": name})
	return Outcome{Pipeline: pipeline}
}

func (p *Preparer) reportFailure(ctx context.Context, buildID, kind, detail string) {
	var err error
	switch kind {
	case "errorCloning":
		err = p.Client.ErrorClone(ctx, buildID, detail)
	case "errorFetching":
		err = p.Client.ErrorFetch(ctx, buildID, detail)
	case "errorCommitNotFound":
		err = p.Client.ErrorCommitNotFound(ctx, buildID, detail)
	case "errorPreparing":
		err = p.Client.ErrorPrepare(ctx, buildID, detail)
	}
	p.Journal.WriteBuildEvent(buildID, map[string]any{"status": kind, "detail": detail})
	_ = err // best-effort: reporting failures themselves are never fatal
}
