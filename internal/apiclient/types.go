package apiclient

// Project is the server-side entity an agent is bound to at startup.
// Field names follow the wire encoding used by the control service
// (spec.md §3/§6); unlike the short keys of the task and pipeline
// records, the project record uses full camelCase keys.
type Project struct {
	ProjectID     string `json:"projectId"`
	GitRepoSSHURL string `json:"gitRepoSshUrl"`
	RepoType      string `json:"repoType"`
}

// ProjectBuildTask is a single named shell command within a pipeline.
type ProjectBuildTask struct {
	Name    string `json:"n"`
	Command string `json:"c"`
}

// ProjectBuildPipeline is an ordered, non-empty list of tasks.
type ProjectBuildPipeline struct {
	Name  string             `json:"n"`
	Tasks []ProjectBuildTask `json:"t"`
}

// TaskLog is the per-task outcome appended to a build as each task
// completes.
type TaskLog struct {
	ReturnCode int    `json:"r"`
	RuntimeMs  int64  `json:"t"`
	Log        string `json:"l"`
}

// ProjectBuild is a unit of work served by the control service.
type ProjectBuild struct {
	ID        string                `json:"id"`
	GitCommit string                `json:"gitCommit"`
	AgentName string                `json:"agentName"`
	GitTag    string                `json:"gitTag,omitempty"`
	GitBranch string                `json:"gitBranch,omitempty"`
	Pipeline  *ProjectBuildPipeline `json:"pipeline,omitempty"`
	RerunID   string                `json:"rerunId,omitempty"`
	StartedAt int64                 `json:"startedAt,omitempty"`
	Cancelled bool                  `json:"cancelled,omitempty"`
	TimedOut  bool                  `json:"timedOut,omitempty"`
	TaskLogs  []TaskLog             `json:"taskLogs,omitempty"`
}

// Ref returns the build's git ref: its tag if present, else its branch.
func (b *ProjectBuild) Ref() string {
	if b.GitTag != "" {
		return b.GitTag
	}
	return b.GitBranch
}

// Valid reports whether a ProjectBuild satisfies spec.md §3's validity
// rule: a 12-char "B…" id, a non-empty commit, an agent name match, and
// neither cancelled nor timed out.
func (b *ProjectBuild) Valid(agentName string) bool {
	if b == nil {
		return false
	}
	if len(b.ID) != 12 || b.ID[0] != 'B' {
		return false
	}
	if b.GitCommit == "" {
		return false
	}
	if b.AgentName != agentName {
		return false
	}
	if b.Cancelled || b.TimedOut {
		return false
	}
	return true
}

// ManifestResponse is the version-check response body.
type ManifestResponse struct {
	ThisVersion   string `json:"thisVersion"`
	LatestVersion string `json:"latestVersion"`
	Manifest      struct {
		Warning int      `json:"w,omitempty"`
		Issues  []string `json:"is,omitempty"`
	} `json:"manifest"`
}

// AddLogsResponse is returned from /add-logs and may flag server-initiated
// cancellation.
type AddLogsResponse struct {
	Cancelled bool `json:"cancelled,omitempty"`
}
