package apiclient

import "context"

// callOpts returns the first override in opts, or the zero value (meaning
// "use the defaults") if none was given.
func callOpts(opts []CallOptions) CallOptions {
	if len(opts) > 0 {
		return opts[0]
	}
	return CallOptions{}
}

// pollRequest is the common body shape for /project and /get-build (spec.md
// §6): agent name, running version, and an optional machine label.
type pollRequest struct {
	AgentName string `json:"n"`
	Version   string `json:"v"`
	Machine   string `json:"m,omitempty"`
}

// GetProject fetches the project this agent is bound to.
func (c *Client) GetProject(ctx context.Context, agentName, version, machine string, opts ...CallOptions) (*Project, error) {
	var project Project
	req := pollRequest{AgentName: agentName, Version: version, Machine: machine}
	if err := c.Do(ctx, "/project", req, &project, callOpts(opts)); err != nil {
		return nil, err
	}
	return &project, nil
}

// CheckManifest runs the version-warning check.
func (c *Client) CheckManifest(ctx context.Context, version string, opts ...CallOptions) (*ManifestResponse, error) {
	var manifest ManifestResponse
	req := struct {
		Version string `json:"v"`
	}{Version: version}
	if err := c.Do(ctx, "/manifest", req, &manifest, callOpts(opts)); err != nil {
		return nil, err
	}
	return &manifest, nil
}

// AgentStopped notifies the service that this agent has stopped, optionally
// attributing the stop to a specific in-flight build.
func (c *Client) AgentStopped(ctx context.Context, projectBuildID, agentName string, opts ...CallOptions) error {
	req := struct {
		ProjectBuildID string `json:"projectBuildId,omitempty"`
		AgentName      string `json:"agentName"`
	}{ProjectBuildID: projectBuildID, AgentName: agentName}
	return c.Do(ctx, "/agent-stopped", req, nil, callOpts(opts))
}

// getBuildWire is the raw /get-build response shape: it is either a
// stop-agent sentinel, a ProjectBuild's fields (flattened, not nested), or
// an empty body when no work is available.
type getBuildWire struct {
	StopAgent bool `json:"__stop__agent,omitempty"`
	ProjectBuild
}

// GetBuildResult is the decoded, disambiguated outcome of a /get-build poll.
type GetBuildResult struct {
	StopAgent bool
	Build     *ProjectBuild
}

// GetBuild polls for work. The response is one of three shapes (spec.md
// §4.10/§6): {__stop__agent: true}, a populated ProjectBuild, or an empty
// body — distinguished here since they share one endpoint and wire struct.
func (c *Client) GetBuild(ctx context.Context, agentName, version, machine string, opts ...CallOptions) (GetBuildResult, error) {
	var wire getBuildWire
	req := pollRequest{AgentName: agentName, Version: version, Machine: machine}
	if err := c.Do(ctx, "/get-build", req, &wire, callOpts(opts)); err != nil {
		return GetBuildResult{}, err
	}

	if wire.StopAgent {
		return GetBuildResult{StopAgent: true}, nil
	}
	if wire.ID == "" {
		return GetBuildResult{}, nil
	}
	build := wire.ProjectBuild
	return GetBuildResult{Build: &build}, nil
}

// SetBranch reports a branch inferred from branchesForCommit (best-effort).
func (c *Client) SetBranch(ctx context.Context, projectBuildID, gitBranch string, opts ...CallOptions) error {
	req := struct {
		ProjectBuildID string `json:"projectBuildId"`
		GitBranch      string `json:"gitBranch"`
	}{ProjectBuildID: projectBuildID, GitBranch: gitBranch}
	return c.Do(ctx, "/set-branch", req, nil, callOpts(opts))
}

type prepErrorRequest struct {
	ProjectBuildID string `json:"projectBuildId"`
	Error          string `json:"error,omitempty"`
}

// ErrorClone reports a failed git clone.
func (c *Client) ErrorClone(ctx context.Context, projectBuildID, detail string, opts ...CallOptions) error {
	return c.Do(ctx, "/error-clone", prepErrorRequest{ProjectBuildID: projectBuildID, Error: detail}, nil, callOpts(opts))
}

// ErrorFetch reports a failed git fetch.
func (c *Client) ErrorFetch(ctx context.Context, projectBuildID, detail string, opts ...CallOptions) error {
	return c.Do(ctx, "/error-fetch", prepErrorRequest{ProjectBuildID: projectBuildID, Error: detail}, nil, callOpts(opts))
}

// ErrorPrepare reports a failed config read/parse/validate.
func (c *Client) ErrorPrepare(ctx context.Context, projectBuildID, detail string, opts ...CallOptions) error {
	return c.Do(ctx, "/error-prepare", prepErrorRequest{ProjectBuildID: projectBuildID, Error: detail}, nil, callOpts(opts))
}

// ErrorCommitNotFound reports a checkout failure for an unknown commit.
func (c *Client) ErrorCommitNotFound(ctx context.Context, projectBuildID, detail string, opts ...CallOptions) error {
	return c.Do(ctx, "/error-commit-not-found", prepErrorRequest{ProjectBuildID: projectBuildID, Error: detail}, nil, callOpts(opts))
}

// SetPipeline reports the pipeline resolved for this build.
func (c *Client) SetPipeline(ctx context.Context, projectBuildID string, pipeline *ProjectBuildPipeline, opts ...CallOptions) error {
	req := struct {
		ProjectBuildID string                `json:"projectBuildId"`
		Pipeline       *ProjectBuildPipeline `json:"pipeline"`
	}{ProjectBuildID: projectBuildID, Pipeline: pipeline}
	return c.Do(ctx, "/set-pipeline", req, nil, callOpts(opts))
}

// NoPipeline reports that no pipeline matched the build's ref.
func (c *Client) NoPipeline(ctx context.Context, projectBuildID string, opts ...CallOptions) error {
	req := struct {
		ProjectBuildID string `json:"projectBuildId"`
	}{ProjectBuildID: projectBuildID}
	return c.Do(ctx, "/no-pipeline", req, nil, callOpts(opts))
}

// TaskStarted is the best-effort lifecycle POST fired by the Build Runner
// (the Sync Engine's own task-started POST is the authoritative one).
func (c *Client) TaskStarted(ctx context.Context, projectBuildID string, taskIndex int, opts ...CallOptions) error {
	req := struct {
		ProjectBuildID string `json:"projectBuildId"`
		TaskIndex      int    `json:"taskIndex"`
	}{ProjectBuildID: projectBuildID, TaskIndex: taskIndex}
	return c.Do(ctx, "/task-started", req, nil, callOpts(opts))
}

// AddLogs ships an incremental log diff for one task and reports whether the
// server has cancelled the build.
func (c *Client) AddLogs(ctx context.Context, buildID string, taskIndex int, diff string, opts ...CallOptions) (*AddLogsResponse, error) {
	req := struct {
		ID        string `json:"id"`
		TaskIndex int    `json:"i"`
		Diff      string `json:"l"`
	}{ID: buildID, TaskIndex: taskIndex, Diff: diff}
	var resp AddLogsResponse
	if err := c.Do(ctx, "/add-logs", req, &resp, callOpts(opts)); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TaskDone reports a completed task's outcome.
func (c *Client) TaskDone(ctx context.Context, projectBuildID string, taskIndex int, returnCode int, runtimeMs int64, opts ...CallOptions) error {
	req := struct {
		ProjectBuildID       string `json:"projectBuildId"`
		TaskIndex            int    `json:"taskIndex"`
		CommandReturnCode    int    `json:"commandReturnCode"`
		CommandRuntimeMillis int64  `json:"commandRuntimeMillis"`
	}{ProjectBuildID: projectBuildID, TaskIndex: taskIndex, CommandReturnCode: returnCode, CommandRuntimeMillis: runtimeMs}
	return c.Do(ctx, "/task-done", req, nil, callOpts(opts))
}

// PipelineDone finalizes a build.
func (c *Client) PipelineDone(ctx context.Context, projectBuildID string, returnCode int, runtimeMs int64, opts ...CallOptions) error {
	req := struct {
		ProjectBuildID        string `json:"projectBuildId"`
		PipelineReturnCode    int    `json:"pipelineReturnCode"`
		PipelineRuntimeMillis int64  `json:"pipelineRuntimeMillis"`
	}{ProjectBuildID: projectBuildID, PipelineReturnCode: returnCode, PipelineRuntimeMillis: runtimeMs}
	return c.Do(ctx, "/pipeline-done", req, nil, callOpts(opts))
}
