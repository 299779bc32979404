// Package journal implements the agent's append-only on-disk event store
// (spec component C1). Every write is a new, immutable, millisecond-
// timestamp-named JSON file; directories are reconstructed by merging the
// files they contain in filename order, last writer wins per key. This
// mirrors the reconstruction-from-JSONL-files idiom used elsewhere in the
// corpus for build/agent history (e.g. a task runner that rebuilds state
// by scanning a log directory and skipping files that don't parse).
package journal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/boxci-run/agent/internal/alog"
)

// Journal is the append-only event store rooted at a per-user data directory.
type Journal struct {
	root   string
	logger alog.Logger
}

// RootDir returns the platform-specific journal root: <home>/.boxci, or
// <home>/AppData/boxci on Windows.
func RootDir(home string) string {
	if runtime.GOOS == "windows" {
		return filepath.Join(home, "AppData", "boxci")
	}
	return filepath.Join(home, ".boxci")
}

// Open bootstraps the journal's root directories. This is the only journal
// operation that is fatal on failure: every other write is fire-and-forget.
func Open(home string, l alog.Logger) (*Journal, error) {
	root := RootDir(home)
	for _, dir := range []string{
		filepath.Join(root, "b"),
		filepath.Join(root, "meta", "boxci"),
		filepath.Join(root, "meta", "agent"),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("journal: bootstrap %s: %w", dir, err)
		}
	}
	return &Journal{root: root, logger: l}, nil
}

// BuildDir returns the directory for a given build id.
func (j *Journal) BuildDir(buildID string) string {
	return filepath.Join(j.root, "b", buildID)
}

// AgentDir returns the per-agent metadata directory.
func (j *Journal) AgentDir(agentName string) string {
	return filepath.Join(j.root, "meta", "agent", agentName)
}

// AgentRepoDir returns the directory the agent should keep its checkout in.
func (j *Journal) AgentRepoDir(agentName string) string {
	return filepath.Join(j.AgentDir(agentName), "repo")
}

// CreateAgentMeta creates the per-agent directory tree and records the
// agent's initial {p: projectID, t: startedAt} event. Never fails loudly:
// errors are logged and swallowed, per spec.md §4.1 failure semantics.
func (j *Journal) CreateAgentMeta(agentName, projectID string) {
	dir := j.AgentDir(agentName)
	if err := os.MkdirAll(filepath.Join(dir, "meta"), 0o755); err != nil {
		j.logf("create agent dir %s: %v", dir, err)
		return
	}
	j.appendEvent(filepath.Join(dir, "meta"), map[string]any{
		"p": projectID,
		"t": time.Now().UnixMilli(),
	})
}

// CreateBuildDir creates the build's logs/ and meta/ subdirectories and
// records its initial {id, a, p, t} event.
func (j *Journal) CreateBuildDir(buildID, agentName, ref string) {
	dir := j.BuildDir(buildID)
	for _, sub := range []string{"logs", "meta"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			j.logf("create build dir %s: %v", dir, err)
			return
		}
	}
	j.appendEvent(filepath.Join(dir, "meta"), map[string]any{
		"id": buildID,
		"a":  agentName,
		"p":  ref,
		"t":  time.Now().UnixMilli(),
	})
}

// WriteBuildEvent appends an arbitrary event to a build's meta directory,
// e.g. pipeline resolution, preparation errors, or a final outcome.
func (j *Journal) WriteBuildEvent(buildID string, event map[string]any) {
	if event == nil {
		event = map[string]any{}
	}
	event["t"] = time.Now().UnixMilli()
	j.appendEvent(filepath.Join(j.BuildDir(buildID), "meta"), event)
}

// WriteAgentStopped appends a stop event to the agent's metadata directory.
func (j *Journal) WriteAgentStopped(agentName, reason string, stoppedAt time.Time) {
	dir := filepath.Join(j.AgentDir(agentName), "meta")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		j.logf("create agent dir %s: %v", dir, err)
		return
	}
	j.appendEvent(dir, map[string]any{
		"stoppedReason": reason,
		"stoppedAt":     stoppedAt.UnixMilli(),
		"t":             stoppedAt.UnixMilli(),
	})
}

// DeleteLogs removes only the logs/ subtree of a build directory.
func (j *Journal) DeleteLogs(buildID string) {
	if err := os.RemoveAll(filepath.Join(j.BuildDir(buildID), "logs")); err != nil {
		j.logf("delete logs for %s: %v", buildID, err)
	}
}

// History is the reconstructed view produced by ReadHistory.
type History struct {
	BoxCI  map[string]any
	Agents map[string]map[string]any
	Builds map[string]map[string]any
}

// ReadHistory reconstructs the effective record of every tracked directory
// by merging its event files in timestamp-filename order. Corrupt or
// unparsable files are skipped, never fatal.
func (j *Journal) ReadHistory() (History, error) {
	h := History{
		BoxCI:  map[string]any{},
		Agents: map[string]map[string]any{},
		Builds: map[string]map[string]any{},
	}

	if m, err := mergeDir(filepath.Join(j.root, "meta", "boxci")); err == nil {
		h.BoxCI = m
	}

	agentRoot := filepath.Join(j.root, "meta", "agent")
	agentEntries, err := os.ReadDir(agentRoot)
	if err != nil && !os.IsNotExist(err) {
		return h, fmt.Errorf("journal: read %s: %w", agentRoot, err)
	}
	for _, e := range agentEntries {
		if !e.IsDir() {
			continue
		}
		m, err := mergeDir(filepath.Join(agentRoot, e.Name(), "meta"))
		if err != nil {
			continue
		}
		h.Agents[e.Name()] = m
	}

	buildRoot := filepath.Join(j.root, "b")
	buildEntries, err := os.ReadDir(buildRoot)
	if err != nil && !os.IsNotExist(err) {
		return h, fmt.Errorf("journal: read %s: %w", buildRoot, err)
	}
	for _, e := range buildEntries {
		if !e.IsDir() {
			continue
		}
		m, err := mergeDir(filepath.Join(buildRoot, e.Name(), "meta"))
		if err != nil {
			continue
		}
		h.Builds[e.Name()] = m
	}

	return h, nil
}

// appendEvent writes a new millisecond-timestamp-named JSON file into dir.
// Collisions within the same millisecond are resolved with a numeric
// suffix. Failure is logged and swallowed.
func (j *Journal) appendEvent(dir string, event map[string]any) {
	body, err := json.Marshal(event)
	if err != nil {
		j.logf("marshal event for %s: %v", dir, err)
		return
	}

	// Every file is named "<ms>-<seq>.json", seq zero-padded to six digits,
	// so that collisions within the same millisecond still sort
	// chronologically: a bare ".json" suffix would sort *after* "-1.json"
	// (ASCII '.' > '-'), and an unpadded "-10" would sort before "-9",
	// either way reversing the order in which same-millisecond events were
	// actually written.
	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
	var path string
	for seq := 0; ; seq++ {
		path = filepath.Join(dir, fmt.Sprintf("%s-%06d.json", ts, seq))
		if _, err := os.Stat(path); os.IsNotExist(err) {
			break
		}
	}

	if err := os.WriteFile(path, body, 0o644); err != nil {
		j.logf("write event %s: %v", path, err)
	}
}

func (j *Journal) logf(format string, v ...any) {
	if j.logger != nil {
		j.logger.Warn(format, v...)
	}
}

// mergeDir reads every *.json file in dir in lexicographic (== chronological,
// given millisecond-timestamp filenames) order and shallow-merges their
// top-level keys, last writer wins.
func mergeDir(dir string) (map[string]any, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	merged := map[string]any{}
	for _, name := range names {
		body, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			continue
		}
		var event map[string]any
		if err := json.Unmarshal(body, &event); err != nil {
			continue
		}
		for k, v := range event {
			merged[k] = v
		}
	}
	return merged, nil
}
