// Package syncengine implements the Sync Engine (spec component C9): a
// periodic background tick that ships per-task started/logs/done events
// and the final pipeline-done event using monotonic log offsets, resilient
// to retries and transient outages. It owns logsSentPointer and the
// synced flags exclusively (spec.md §4.9, §5, §9); the Build Runner never
// touches them.
package syncengine

import (
	"context"
	"sync"
	"time"

	"github.com/boxci-run/agent/internal/apiclient"
	"github.com/boxci-run/agent/internal/buildrun"
)

// Interval is the default period between sync ticks (spec.md §4.9).
const Interval = 5 * time.Second

// tickCallOptions bounds how long a single sync-tick POST can block: a
// failed call defers to the next tick rather than retrying internally for
// the default multi-second/10-attempt budget, which would stall every other
// live build behind tickMu.
var tickCallOptions = apiclient.CallOptions{RetryPeriod: time.Second, MaxRetries: 1}

// Engine ships log/lifecycle updates for a set of live builds.
type Engine struct {
	Client *apiclient.Client

	tickMu sync.Mutex // sync-tick exclusion (spec.md §8 invariant 3)

	mu     sync.Mutex
	builds map[string]*buildrun.Build
}

// New returns an Engine with no live builds.
func New(client *apiclient.Client) *Engine {
	return &Engine{Client: client, builds: make(map[string]*buildrun.Build)}
}

// Track adds a build to the live set the next tick will process.
func (e *Engine) Track(b *buildrun.Build) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.builds[b.ID] = b
}

// Live reports whether buildID is still in the live set.
func (e *Engine) Live(buildID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.builds[buildID]
	return ok
}

func (e *Engine) snapshot() []*buildrun.Build {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*buildrun.Build, 0, len(e.builds))
	for _, b := range e.builds {
		out = append(out, b)
	}
	return out
}

func (e *Engine) evict(buildID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.builds, buildID)
}

// Tick runs one synchronization pass over every live build. Ticks never
// overlap: a second call blocking on tickMu waits for the first to finish.
func (e *Engine) Tick(ctx context.Context) {
	e.tickMu.Lock()
	defer e.tickMu.Unlock()

	for _, build := range e.snapshot() {
		e.syncBuild(ctx, build)
	}
}

func (e *Engine) syncBuild(ctx context.Context, build *buildrun.Build) {
	allDone := true
	allLogsSynced := true

	tasks, cancelled, pipelineReturnCode, runtimeMs := build.Snapshot()

	for _, task := range tasks {
		if task.Task == nil {
			allDone = false
			continue
		}

		if !task.SyncedStarted {
			if err := e.Client.TaskStarted(ctx, build.ID, task.Index, tickCallOptions); err == nil {
				task.SyncedStarted = true
			}
		}

		if !task.SyncedLogs {
			result := task.Task.Result()
			newLogs := result.Logs[min(task.LogsSentPointer, len(result.Logs)):]
			isLastChunk := result.ReturnCode != nil || result.Cancelled || result.ErrorRunningCmd != nil
			snapshotLen := len(result.Logs)

			resp, err := e.Client.AddLogs(ctx, build.ID, task.Index, newLogs, tickCallOptions)
			if err == nil {
				task.LogsSentPointer = snapshotLen
				if isLastChunk {
					task.SyncedLogs = true
				}
				if resp != nil && resp.Cancelled {
					task.Task.Cancel()
					build.SetCancelled()
					cancelled = true
				}
			}
		}

		result := task.Task.Result()
		if task.SyncedLogs && result.ReturnCode != nil && !task.SyncedDone {
			if err := e.Client.TaskDone(ctx, build.ID, task.Index, *result.ReturnCode, result.RuntimeMs, tickCallOptions); err == nil {
				task.SyncedDone = true
			}
		}

		if !task.SyncedDone {
			allDone = false
		}
		if !task.SyncedLogs {
			allLogsSynced = false
		}
	}

	// Server-initiated (or local) cancellation abandons the build without a
	// pipeline-done: once every task's last log chunk has been acked, there
	// is nothing left to deliver (spec.md §9's open question on cancellation
	// is resolved here by evicting rather than leaving the build live
	// forever waiting on a return code that will never arrive).
	if cancelled && allLogsSynced && len(tasks) > 0 {
		build.Events.Close()
		e.evict(build.ID)
		return
	}

	if allDone && len(tasks) > 0 && pipelineReturnCode != nil {
		if err := e.Client.PipelineDone(ctx, build.ID, *pipelineReturnCode, runtimeMs, tickCallOptions); err == nil {
			build.Events.Close()
			e.evict(build.ID)
		}
	}
}
