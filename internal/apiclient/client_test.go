package apiclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDoSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "proj", r.Header.Get("project-id"))
		require.Equal(t, "key", r.Header.Get("access-key"))
		w.Write([]byte(`{"thisVersion":"1.0.0","latestVersion":"1.0.0","manifest":{}}`))
	}))
	defer srv.Close()

	c := New(Config{Endpoint: srv.URL, ProjectID: "proj", AccessKey: "key"})
	manifest, err := c.CheckManifest(context.Background(), "1.0.0")
	require.NoError(t, err)
	require.Equal(t, "1.0.0", manifest.ThisVersion)
}

func TestDoFatalAuthError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := New(Config{Endpoint: srv.URL, ProjectID: "proj", AccessKey: "key"})
	_, err := c.GetProject(context.Background(), "agent-x", "1.0.0", "")
	require.Error(t, err)

	var fatal *FatalAuthError
	require.ErrorAs(t, err, &fatal)
	require.Equal(t, "invalid-creds", fatal.Reason)
}

func TestDoForbiddenIsInvalidConfig(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := New(Config{Endpoint: srv.URL, ProjectID: "proj", AccessKey: "key"})
	_, err := c.GetProject(context.Background(), "agent-x", "1.0.0", "")

	var fatal *FatalAuthError
	require.ErrorAs(t, err, &fatal)
	require.Equal(t, "invalid-config", fatal.Reason)
}

func TestDoRetriesThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := New(Config{Endpoint: srv.URL, ProjectID: "proj", AccessKey: "key"})
	err := c.Do(context.Background(), "/no-pipeline", struct{}{}, nil, CallOptions{RetryPeriod: 5 * time.Millisecond, MaxRetries: 5})
	require.NoError(t, err)
	require.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestDoExhaustsRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(Config{Endpoint: srv.URL, ProjectID: "proj", AccessKey: "key"})
	err := c.Do(context.Background(), "/no-pipeline", struct{}{}, nil, CallOptions{RetryPeriod: 5 * time.Millisecond, MaxRetries: 2})
	require.Error(t, err)

	var exhausted *TransportExhaustedError
	require.ErrorAs(t, err, &exhausted)
}

func TestGetBuildDisambiguatesStopAgent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"__stop__agent":true}`))
	}))
	defer srv.Close()

	c := New(Config{Endpoint: srv.URL, ProjectID: "proj", AccessKey: "key"})
	result, err := c.GetBuild(context.Background(), "agent-x", "1.0.0", "")
	require.NoError(t, err)
	require.True(t, result.StopAgent)
	require.Nil(t, result.Build)
}

func TestGetBuildDisambiguatesEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := New(Config{Endpoint: srv.URL, ProjectID: "proj", AccessKey: "key"})
	result, err := c.GetBuild(context.Background(), "agent-x", "1.0.0", "")
	require.NoError(t, err)
	require.False(t, result.StopAgent)
	require.Nil(t, result.Build)
}

func TestGetBuildDisambiguatesValidBuild(t *testing.T) {
	build := ProjectBuild{ID: "B00000000001", GitCommit: "c0ffee0", AgentName: "agent-x", GitBranch: "master"}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := json.Marshal(build)
		w.Write(data)
	}))
	defer srv.Close()

	c := New(Config{Endpoint: srv.URL, ProjectID: "proj", AccessKey: "key"})
	result, err := c.GetBuild(context.Background(), "agent-x", "1.0.0", "")
	require.NoError(t, err)
	require.False(t, result.StopAgent)
	require.NotNil(t, result.Build)
	require.Equal(t, "B00000000001", result.Build.ID)
	require.True(t, result.Build.Valid("agent-x"))
}

func TestAddLogsReportsCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"cancelled":true}`))
	}))
	defer srv.Close()

	c := New(Config{Endpoint: srv.URL, ProjectID: "proj", AccessKey: "key"})
	resp, err := c.AddLogs(context.Background(), "B00000000001", 0, "hi\n")
	require.NoError(t, err)
	require.True(t, resp.Cancelled)
}

func TestConnectingCallbacksFireOncePerRetryCycle(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	var connecting, doneConnecting int32
	c := New(Config{
		Endpoint:  srv.URL,
		ProjectID: "proj",
		AccessKey: "key",
		OnConnecting: func() {
			atomic.AddInt32(&connecting, 1)
		},
		OnDoneConnecting: func() {
			atomic.AddInt32(&doneConnecting, 1)
		},
	})
	err := c.Do(context.Background(), "/no-pipeline", struct{}{}, nil, CallOptions{RetryPeriod: 5 * time.Millisecond, MaxRetries: 5})
	require.NoError(t, err)
	require.EqualValues(t, 1, atomic.LoadInt32(&connecting))
	require.EqualValues(t, 1, atomic.LoadInt32(&doneConnecting))
}

func TestCallOptionsOverrideRetryPeriod(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := New(Config{Endpoint: srv.URL, ProjectID: "proj", AccessKey: "key"})
	start := time.Now()
	err := c.Do(context.Background(), "/no-pipeline", struct{}{}, nil, CallOptions{RetryPeriod: 10 * time.Millisecond, MaxRetries: 2})
	require.NoError(t, err)
	require.Less(t, time.Since(start), time.Second)
}
