// Package agentloop implements the Agent Main Loop (spec component C10):
// startup authentication, the poll/prepare/run/sync cycle, periodic
// version checks, and cooperative shutdown. It is the one package that
// wires every other component together, the way agent_worker.go's ping
// loop drives registration, job acquisition, and heartbeats in the teacher.
package agentloop

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/boxci-run/agent/internal/alog"
	"github.com/boxci-run/agent/internal/apiclient"
	"github.com/boxci-run/agent/internal/buildlog"
	"github.com/boxci-run/agent/internal/buildrun"
	"github.com/boxci-run/agent/internal/journal"
	"github.com/boxci-run/agent/internal/prepare"
	"github.com/boxci-run/agent/internal/syncengine"
)

// versionCheckEvery controls how many poll iterations pass between
// re-checks of the CLI version manifest (spec.md §4.10).
const versionCheckEvery = 8

// defaultPollInterval is the nominal get-build polling period; the loop
// sleeps half of it before and after a poll that found no work, so the
// effective period between successive polls is this value (spec.md §4.10).
const defaultPollInterval = 10 * time.Second

// StopReasonFile is the name, under the agent's journal directory, of the
// cooperative stop file a CLI can drop to ask the agent to exit between
// builds.
const StopReasonFile = "stop"

// Config is everything the loop needs to run one agent's lifetime.
type Config struct {
	Client    *apiclient.Client
	Journal   *journal.Journal
	Logger    alog.Logger
	AgentName string
	ProjectID string
	Version   string
	Machine   string
	RepoDir   string

	// PollInterval overrides defaultPollInterval; zero means use the default.
	PollInterval time.Duration

	// SyncInterval overrides syncengine.Interval; zero means use the default.
	SyncInterval time.Duration
}

// Loop drives one agent process: authenticate, then poll/prepare/run/sync
// until stopped.
type Loop struct {
	cfg    Config
	sync   *syncengine.Engine
	iter   int
	stopAt string
}

// New constructs a Loop. It does not perform any I/O.
func New(cfg Config) *Loop {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = syncengine.Interval
	}
	return &Loop{
		cfg:    cfg,
		sync:   syncengine.New(cfg.Client),
		stopAt: filepath.Join(cfg.Journal.AgentDir(cfg.AgentName), StopReasonFile),
	}
}

// fatalError marks a startup or in-loop condition that must exit the
// process with status 1 rather than be swallowed (spec.md §7).
type fatalError struct {
	reason string
	err    error
}

func (e *fatalError) Error() string { return e.reason + ": " + e.err.Error() }
func (e *fatalError) Unwrap() error { return e.err }

// Startup authenticates to the control service and runs the first version
// check, per spec.md §4.10. A 502 is retried indefinitely inside the
// client; any other failure is fatal.
func (l *Loop) Startup(ctx context.Context) (*apiclient.Project, error) {
	l.cfg.Journal.CreateAgentMeta(l.cfg.AgentName, l.cfg.ProjectID)

	project, err := l.cfg.Client.GetProject(ctx, l.cfg.AgentName, l.cfg.Version, l.cfg.Machine)
	if err != nil {
		var auth *apiclient.FatalAuthError
		if errors.As(err, &auth) {
			return nil, &fatalError{reason: auth.Reason, err: err}
		}
		return nil, &fatalError{reason: "bootstrap", err: err}
	}

	if err := l.checkVersion(ctx); err != nil {
		return nil, err
	}

	return project, nil
}

// checkVersion runs the manifest check. A level-3 warning is fatal; lower
// levels are printed and swallowed (spec.md §4.10, §7).
func (l *Loop) checkVersion(ctx context.Context) error {
	manifest, err := l.cfg.Client.CheckManifest(ctx, l.cfg.Version)
	if err != nil {
		l.cfg.Logger.Warn("version check failed: %v", err)
		return nil
	}
	for _, issue := range manifest.Manifest.Issues {
		l.cfg.Logger.Warn("%s", issue)
	}
	if manifest.Manifest.Warning >= 3 {
		reason := "unsupported agent version"
		if len(manifest.Manifest.Issues) > 0 {
			reason = manifest.Manifest.Issues[0]
		}
		return &fatalError{reason: "unsupported-version", err: errors.New(reason)}
	}
	if manifest.Manifest.Warning > 0 {
		l.cfg.Logger.Warn("running version %s, latest is %s", manifest.ThisVersion, manifest.LatestVersion)
	}
	return nil
}

// Run executes the poll/prepare/run cycle until ctx is cancelled, the
// server requests a stop, or the cooperative stop file appears. It returns
// the process exit code per spec.md §6's Exit codes rule.
func (l *Loop) Run(ctx context.Context, project *apiclient.Project) int {
	go l.syncLoop(ctx)

	for {
		select {
		case <-ctx.Done():
			l.cfg.Journal.WriteAgentStopped(l.cfg.AgentName, "interrupted", time.Now())
			return 0
		default:
		}

		l.iter++
		if l.iter%versionCheckEvery == 0 {
			if err := l.checkVersion(ctx); err != nil {
				l.cfg.Logger.Error("%v", err)
				return 1
			}
		}

		if l.stopRequested() {
			l.cfg.Journal.WriteAgentStopped(l.cfg.AgentName, "stopped-from-cli", time.Now())
			return 0
		}

		result, err := l.cfg.Client.GetBuild(ctx, l.cfg.AgentName, l.cfg.Version, l.cfg.Machine)
		if err != nil {
			l.cfg.Logger.Warn("get-build failed: %v", err)
			sleepHalf(ctx, l.cfg.PollInterval)
			continue
		}

		switch {
		case result.StopAgent:
			if err := l.cfg.Client.AgentStopped(ctx, "", l.cfg.AgentName); err != nil {
				l.cfg.Logger.Warn("agent-stopped notify failed: %v", err)
			}
			l.cfg.Journal.WriteAgentStopped(l.cfg.AgentName, "stopped-from-app", time.Now())
			return 0

		case result.Build != nil && result.Build.Valid(l.cfg.AgentName):
			l.runBuild(ctx, project, result.Build)

		case result.Build != nil:
			l.cfg.Logger.Warn("received invalid build %q, skipping", result.Build.ID)

		default:
			sleepHalf(ctx, l.cfg.PollInterval)
		}

		sleepHalf(ctx, l.cfg.PollInterval)
	}
}

// runBuild prepares and runs one build to completion (blocking), then
// hands it to the sync engine for eventual-consistency delivery.
func (l *Loop) runBuild(ctx context.Context, project *apiclient.Project, build *apiclient.ProjectBuild) {
	l.cfg.Journal.CreateBuildDir(build.ID, l.cfg.AgentName, build.Ref())

	logsDir := filepath.Join(l.cfg.Journal.BuildDir(build.ID), "logs")
	events, err := buildlog.Open(logsDir, build.ID, buildlog.TRACE)
	if err != nil {
		l.cfg.Logger.Error("open build logger for %s: %v", build.ID, err)
		return
	}

	preparer := &prepare.Preparer{Client: l.cfg.Client, Journal: l.cfg.Journal, RepoDir: l.cfg.RepoDir}
	outcome := preparer.Run(ctx, project, build, events)
	if outcome.Skip {
		events.Close()
		return
	}

	run := &buildrun.Build{
		ID:        build.ID,
		AgentName: l.cfg.AgentName,
		Commit:    build.GitCommit,
		Branch:    build.GitBranch,
		Tag:       build.GitTag,
		Project:   project.ProjectID,
		Events:    events,
	}

	// Track the build before running it: the sync engine's own ticker goroutine
	// reads snapshots concurrently, so logs and cancellation can reach the
	// server while tasks are still executing, not just after the build ends.
	l.sync.Track(run)

	runner := &buildrun.Runner{Client: l.cfg.Client, Journal: l.cfg.Journal, RepoDir: l.cfg.RepoDir}
	runner.Run(ctx, run, outcome.Pipeline)

	// Block until the sync engine has delivered every task and finalized
	// the build, so the next poll iteration doesn't interleave a second
	// build's lifecycle with this one's tail.
	for l.sync.Live(run.ID) {
		select {
		case <-ctx.Done():
			return
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// syncLoop runs the Sync Engine's tick on its own cadence, independent of
// the poll loop (spec.md §5: the sync tick is a logically separate task).
func (l *Loop) syncLoop(ctx context.Context) {
	ticker := time.NewTicker(l.cfg.SyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.sync.Tick(ctx)
		}
	}
}

func (l *Loop) stopRequested() bool {
	_, err := os.Stat(l.stopAt)
	return err == nil
}

func sleepHalf(ctx context.Context, interval time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(interval / 2):
	}
}
