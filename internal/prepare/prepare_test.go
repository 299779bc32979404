package prepare

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"

	"github.com/boxci-run/agent/internal/apiclient"
	"github.com/boxci-run/agent/internal/buildlog"
	"github.com/boxci-run/agent/internal/journal"
	"github.com/stretchr/testify/require"
)

// recordingServer tracks which logical endpoint paths were hit.
type recordingServer struct {
	mu    sync.Mutex
	calls []string
}

func (s *recordingServer) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.calls = append(s.calls, r.URL.Path)
		s.mu.Unlock()
		w.Write([]byte(`{}`))
	}
}

func (s *recordingServer) hit(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.calls {
		if c == path {
			return true
		}
	}
	return false
}

func initOriginRepo(t *testing.T) (dir, commit, branch string) {
	t.Helper()
	dir = t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		cmd.Env = append(os.Environ(),
			"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@example.com",
			"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@example.com",
		)
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, "git %v: %s", args, out)
	}
	run("init", "-b", "master")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "boxci.json"), []byte(`{
		"tasks": {"a": "echo hi"},
		"pipelines": {"master": ["a"]}
	}`), 0o644))
	run("add", ".")
	run("commit", "-m", "init", "--no-gpg-sign")

	out, err := exec.Command("git", "-C", dir, "rev-parse", "HEAD").CombinedOutput()
	require.NoError(t, err)
	return dir, trimNewline(string(out)), "master"
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}

func newTestPreparer(t *testing.T, srv *httptest.Server) (*Preparer, *buildlog.Logger) {
	t.Helper()
	home := t.TempDir()
	j, err := journal.Open(home, nil)
	require.NoError(t, err)

	client := apiclient.New(apiclient.Config{Endpoint: srv.URL, ProjectID: "P1234567", AccessKey: "key"})
	p := &Preparer{
		Client:  client,
		Journal: j,
		RepoDir: filepath.Join(home, "repo"),
	}
	logsDir := filepath.Join(home, "logs")
	events, err := buildlog.Open(logsDir, "B00000000001", buildlog.TRACE)
	require.NoError(t, err)
	return p, events
}

func TestRunClonesFetchesAndResolvesPipeline(t *testing.T) {
	originDir, commit, branch := initOriginRepo(t)
	rec := &recordingServer{}
	srv := httptest.NewServer(rec.handler())
	defer srv.Close()

	p, events := newTestPreparer(t, srv)
	defer events.Close()

	project := &apiclient.Project{ProjectID: "P1234567", GitRepoSSHURL: originDir}
	build := &apiclient.ProjectBuild{ID: "B00000000001", GitCommit: commit, AgentName: "agent-x", GitBranch: branch}

	outcome := p.Run(context.Background(), project, build, events)
	require.False(t, outcome.Skip)
	require.NotNil(t, outcome.Pipeline)
	require.Equal(t, "master", outcome.Pipeline.Name)
	require.True(t, rec.hit("/set-pipeline"))
}

func TestRunReportsCommitNotFound(t *testing.T) {
	originDir, _, branch := initOriginRepo(t)
	rec := &recordingServer{}
	srv := httptest.NewServer(rec.handler())
	defer srv.Close()

	p, events := newTestPreparer(t, srv)
	defer events.Close()

	project := &apiclient.Project{ProjectID: "P1234567", GitRepoSSHURL: originDir}
	build := &apiclient.ProjectBuild{ID: "B00000000001", GitCommit: "0000000000000000000000000000000000beef", AgentName: "agent-x", GitBranch: branch}

	outcome := p.Run(context.Background(), project, build, events)
	require.True(t, outcome.Skip)
	require.True(t, rec.hit("/error-commit-not-found"))
}

func TestRunReportsNoMatchingPipeline(t *testing.T) {
	originDir, commit, _ := initOriginRepo(t)
	rec := &recordingServer{}
	srv := httptest.NewServer(rec.handler())
	defer srv.Close()

	p, events := newTestPreparer(t, srv)
	defer events.Close()

	project := &apiclient.Project{ProjectID: "P1234567", GitRepoSSHURL: originDir}
	build := &apiclient.ProjectBuild{ID: "B00000000001", GitCommit: commit, AgentName: "agent-x", GitBranch: "release"}

	outcome := p.Run(context.Background(), project, build, events)
	require.True(t, outcome.Skip)
	require.True(t, rec.hit("/no-pipeline"))
}

func TestRunRerunShortCircuitsPipelineResolution(t *testing.T) {
	originDir, commit, branch := initOriginRepo(t)
	rec := &recordingServer{}
	srv := httptest.NewServer(rec.handler())
	defer srv.Close()

	p, events := newTestPreparer(t, srv)
	defer events.Close()

	project := &apiclient.Project{ProjectID: "P1234567", GitRepoSSHURL: originDir}
	rerunPipeline := &apiclient.ProjectBuildPipeline{Name: "custom-rerun", Tasks: []apiclient.ProjectBuildTask{{Name: "a", Command: "echo hi"}}}
	build := &apiclient.ProjectBuild{ID: "B00000000001", GitCommit: commit, AgentName: "agent-x", GitBranch: branch, Pipeline: rerunPipeline}

	outcome := p.Run(context.Background(), project, build, events)
	require.False(t, outcome.Skip)
	require.Equal(t, "custom-rerun", outcome.Pipeline.Name)
	require.False(t, rec.hit("/set-pipeline"))
}

func TestRunAdoptsInferredBranchWhenEmpty(t *testing.T) {
	originDir, commit, _ := initOriginRepo(t)
	rec := &recordingServer{}
	srv := httptest.NewServer(rec.handler())
	defer srv.Close()

	p, events := newTestPreparer(t, srv)
	defer events.Close()

	project := &apiclient.Project{ProjectID: "P1234567", GitRepoSSHURL: originDir}
	build := &apiclient.ProjectBuild{ID: "B00000000001", GitCommit: commit, AgentName: "agent-x"}

	outcome := p.Run(context.Background(), project, build, events)
	require.False(t, outcome.Skip)
	require.Equal(t, "master", build.GitBranch)
	require.True(t, rec.hit("/set-branch"))
}
