// Package buildrun implements the Build Runner (spec component C8): it
// sequences a pipeline's tasks, owns the authoritative in-memory build
// state, and exposes synchronization-friendly snapshots to the Sync
// Engine (spec.md §4.8, §5, §9).
package buildrun

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/boxci-run/agent/internal/apiclient"
	"github.com/boxci-run/agent/internal/buildlog"
	"github.com/boxci-run/agent/internal/journal"
	"github.com/boxci-run/agent/internal/taskexec"
)

// bestEffortCallOptions bounds the Build Runner's own lifecycle POSTs: they
// are a convenience for latency, not the source of truth (the Sync Engine
// re-reports the same events authoritatively), so a failure here should not
// stall the pipeline waiting out the default retry budget.
var bestEffortCallOptions = apiclient.CallOptions{RetryPeriod: time.Second, MaxRetries: 1}

// TaskState is the live state of one pipeline task, readable by the Sync
// Engine while owned (written) exclusively by the Build Runner — save for
// the sync fields below, which the Sync Engine itself owns.
type TaskState struct {
	Index   int
	Name    string
	Command string
	Task    *taskexec.Task

	// Sync owns these; Build Runner never writes them.
	LogsSentPointer int
	SyncedStarted   bool
	SyncedLogs      bool
	SyncedDone      bool
}

// Build is one in-flight build's complete state. The Build Runner writes
// tasks/cancelled/pipelineReturnCode/runtimeMs from its own goroutine while
// running a pipeline; the Sync Engine reads (and, on server-initiated
// cancellation, writes) the same fields concurrently from its own ticker
// goroutine, so every access goes through mu (spec.md §5's single-writer
// rule describes the original's single-threaded event loop; the Go port
// has two real goroutines touching this state and needs a real lock).
type Build struct {
	ID        string
	AgentName string
	Commit    string
	Branch    string
	Tag       string
	Project   string

	Events *buildlog.Logger

	mu                 sync.Mutex
	tasks              []*TaskState
	cancelled          bool
	pipelineReturnCode *int
	runtimeMs          int64
}

// AddTask appends state to the task list.
func (b *Build) AddTask(state *TaskState) {
	b.mu.Lock()
	b.tasks = append(b.tasks, state)
	b.mu.Unlock()
}

// Snapshot returns a copy of the task list plus the build's lifecycle
// fields, safe to call from any goroutine.
func (b *Build) Snapshot() (tasks []*TaskState, cancelled bool, pipelineReturnCode *int, runtimeMs int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	tasks = append([]*TaskState(nil), b.tasks...)
	return tasks, b.cancelled, b.pipelineReturnCode, b.runtimeMs
}

// SetCancelled marks the build cancelled. Called by the Build Runner when a
// task reports cancellation, and by the Sync Engine when the server answers
// an /add-logs call with cancelled=true.
func (b *Build) SetCancelled() {
	b.mu.Lock()
	b.cancelled = true
	b.mu.Unlock()
}

// RecordTaskResult accumulates runtimeMs and records code as the pipeline's
// current return code, the way the last task to run determines the
// pipeline's overall exit status.
func (b *Build) RecordTaskResult(code int, runtimeMs int64) {
	b.mu.Lock()
	b.runtimeMs += runtimeMs
	rc := code
	b.pipelineReturnCode = &rc
	b.mu.Unlock()
}

// Runner drives one build's tasks to completion (or abandonment).
type Runner struct {
	Client  *apiclient.Client
	Journal *journal.Journal
	RepoDir string
}

// Run executes pipeline's tasks in order against build, honoring
// cancellation and non-zero-exit abort semantics (spec.md §4.8). It never
// panics: task spawn failures are folded into a synthesized non-zero
// result.
func (r *Runner) Run(ctx context.Context, build *Build, pipeline *apiclient.ProjectBuildPipeline) {
	shell, flag := taskexec.DefaultShell()

	for i, t := range pipeline.Tasks {
		state := &TaskState{Index: i, Name: t.Name, Command: t.Command}

		build.Events.Info("task %d (%s) started", i, t.Name)
		r.Journal.WriteBuildEvent(build.ID, map[string]any{"status": "task-started", "taskIndex": i})
		if err := r.Client.TaskStarted(ctx, build.ID, i, bestEffortCallOptions); err != nil {
			build.Events.Error("best-effort task-started POST failed: %v", err)
		}

		task := &taskexec.Task{
			Dir: r.RepoDir,
			Env: taskexec.Env{
				Project:      build.Project,
				ProjectBuild: build.ID,
				TaskIndex:    i,
				TaskName:     t.Name,
				TaskCommand:  t.Command,
				Commit:       build.Commit,
				Branch:       build.Branch,
				Tag:          build.Tag,
				AgentName:    build.AgentName,
			},
			Sink: logSink{build.Events},
		}
		state.Task = task
		// Only now, with state fully formed, does it become visible to the
		// Sync Engine's concurrent ticker.
		build.AddTask(state)

		task.Run(shell, flag, t.Command)

		result := task.Result()
		if result.Cancelled {
			build.SetCancelled()
			build.Events.Info("task %d cancelled; abandoning build without finalization", i)
			return
		}

		code := 1
		if result.ErrorRunningCmd != nil {
			build.Events.Error("task %d failed to run: %v", i, result.ErrorRunningCmd)
			task.AppendLog(fmt.Sprintf("\nboxci: failed to run command: %v\n", result.ErrorRunningCmd))
		} else if result.ReturnCode != nil {
			code = *result.ReturnCode
		}

		r.Journal.WriteBuildEvent(build.ID, map[string]any{
			"status": "task-done", "taskIndex": i, "returnCode": code, "runtimeMs": result.RuntimeMs,
		})
		if err := r.Client.TaskDone(ctx, build.ID, i, code, result.RuntimeMs, bestEffortCallOptions); err != nil {
			build.Events.Error("best-effort task-done POST failed: %v", err)
		}

		build.RecordTaskResult(code, result.RuntimeMs)
		if code != 0 {
			build.Events.Info("task %d exited %d, aborting pipeline", i, code)
			break
		}
	}
}

type logSink struct{ events *buildlog.Logger }

func (s logSink) WriteLog(chunk string) { s.events.WriteLog(chunk) }
