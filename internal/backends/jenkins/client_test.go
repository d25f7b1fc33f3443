package jenkins

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/qaflow/internal/qa"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	c, err := New(Config{URL: server.URL, Username: "qa-bot", Token: "token", RateLimit: 1000})
	require.NoError(t, err)
	return c
}

func TestJobURLPath(t *testing.T) {
	assert.Equal(t, "job/team/job/repo/job/e2e", JobURLPath("team/repo/e2e"))
	assert.Equal(t, "job/team/job/e2e", JobURLPath("job/team/job/e2e"))
	assert.Equal(t, "job/pr-gate", JobURLPath("/pr-gate/"))
}

func TestParseBuildID(t *testing.T) {
	tests := []struct {
		id      string
		job     string
		ref     string
		wantErr bool
	}{
		{id: "team/e2e#12", job: "team/e2e", ref: "12"},
		{id: "team/e2e#queue-7", job: "team/e2e", ref: "queue-7"},
		{id: "e2e", wantErr: true},
		{id: "#12", wantErr: true},
		{id: "e2e#", wantErr: true},
		{id: "e2e#abc", wantErr: true},
		{id: "e2e#queue-x", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			job, ref, err := ParseBuildID(tt.id)
			if tt.wantErr {
				assert.Equal(t, qa.KindInvalidInput, qa.KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.job, job)
			assert.Equal(t, tt.ref, ref)
		})
	}
}

func TestGetStatus_MapsResults(t *testing.T) {
	tests := []struct {
		body string
		want qa.BuildStatus
	}{
		{`{"number":5,"building":true,"result":null,"timestamp":1754229600000}`, qa.BuildRunning},
		{`{"number":5,"building":false,"result":"SUCCESS","timestamp":1754229600000,"duration":60000}`, qa.BuildSuccess},
		{`{"number":5,"building":false,"result":"FAILURE"}`, qa.BuildFailure},
		{`{"number":5,"building":false,"result":"UNSTABLE"}`, qa.BuildFailure},
		{`{"number":5,"building":false,"result":"ABORTED"}`, qa.BuildAborted},
		{`{"number":5,"building":false,"result":null}`, qa.BuildQueued},
		{`{"number":5,"building":false,"result":"WEIRD"}`, qa.BuildUnknown},
	}

	for _, tt := range tests {
		t.Run(string(tt.want), func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/job/team/job/e2e/5/api/json", r.URL.Path)
				_, _ = w.Write([]byte(tt.body))
			})

			run, err := c.GetStatus(context.Background(), "team/e2e#5")
			require.NoError(t, err)
			assert.Equal(t, "team/e2e#5", run.ID)
			assert.Equal(t, tt.want, run.Status)
		})
	}
}

func TestGetStatus_FinishedAtAndParameters(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{
			"number": 9, "building": false, "result": "SUCCESS",
			"timestamp": 1754229600000, "duration": 90000,
			"url": "https://ci.example.com/job/pr-gate/9/",
			"actions": [{"_class": "hudson.model.CauseAction"},
				{"_class": "hudson.model.ParametersAction", "parameters": [
					{"name": "BRANCH", "value": "feature/PROJ-1"},
					{"name": "RETRIES", "value": 2},
					{"name": "DRY_RUN", "value": false}]}]
		}`))
	})

	run, err := c.GetStatus(context.Background(), "pr-gate#9")
	require.NoError(t, err)

	started := time.UnixMilli(1754229600000).UTC()
	assert.Equal(t, started, run.StartedAt)
	require.NotNil(t, run.FinishedAt)
	assert.Equal(t, started.Add(90*time.Second), *run.FinishedAt)
	assert.Equal(t, map[string]string{"BRANCH": "feature/PROJ-1", "RETRIES": "2", "DRY_RUN": "false"}, run.Parameters)
}

func TestGetStatus_ResolvesQueueItems(t *testing.T) {
	t.Run("waiting", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/queue/item/77/api/json", r.URL.Path)
			_, _ = w.Write([]byte(`{"id":77,"cancelled":false,"why":"Waiting for next available executor"}`))
		})
		run, err := c.GetStatus(context.Background(), "e2e#queue-77")
		require.NoError(t, err)
		assert.Equal(t, qa.BuildQueued, run.Status)
		assert.Equal(t, "e2e#queue-77", run.ID)
	})

	t.Run("cancelled", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"id":77,"cancelled":true}`))
		})
		run, err := c.GetStatus(context.Background(), "e2e#queue-77")
		require.NoError(t, err)
		assert.Equal(t, qa.BuildAborted, run.Status)
	})

	t.Run("started", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/queue/item/77/api/json":
				_, _ = w.Write([]byte(`{"id":77,"executable":{"number":31,"url":"https://ci/job/e2e/31/"}}`))
			case "/job/e2e/31/api/json":
				_, _ = w.Write([]byte(`{"number":31,"building":true}`))
			default:
				t.Errorf("unexpected path %s", r.URL.Path)
			}
		})
		run, err := c.GetStatus(context.Background(), "e2e#queue-77")
		require.NoError(t, err)
		assert.Equal(t, "e2e#31", run.ID)
		assert.Equal(t, qa.BuildRunning, run.Status)
	})
}

func TestGetStatus_Errors(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	_, err := c.GetStatus(context.Background(), "e2e#404")
	assert.Equal(t, qa.KindNotFound, qa.KindOf(err))

	c = newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	_, err = c.GetStatus(context.Background(), "e2e#1")
	assert.Equal(t, qa.KindTransient, qa.KindOf(err))
}

func TestTrigger(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/job/team/job/e2e/buildWithParameters", r.URL.Path)
		assert.Equal(t, "feature/PROJ-1", r.URL.Query().Get("BRANCH"))
		w.Header().Set("Location", "https://ci.example.com/queue/item/123/")
		w.WriteHeader(http.StatusCreated)
	})

	run, err := c.Trigger(context.Background(), "team/e2e", map[string]string{"BRANCH": "feature/PROJ-1"})
	require.NoError(t, err)
	assert.Equal(t, "team/e2e#queue-123", run.ID)
	assert.Equal(t, qa.BuildQueued, run.Status)
	assert.Equal(t, "feature/PROJ-1", run.Parameters["BRANCH"])
}

func TestTrigger_WithoutParameters(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/job/nightly/build", r.URL.Path)
		w.Header().Set("Location", "/queue/item/5/")
		w.WriteHeader(http.StatusCreated)
	})
	run, err := c.Trigger(context.Background(), "nightly", nil)
	require.NoError(t, err)
	assert.Equal(t, "nightly#queue-5", run.ID)
}

func TestTrigger_MissingLocation(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})
	_, err := c.Trigger(context.Background(), "nightly", nil)
	assert.Equal(t, qa.KindInternal, qa.KindOf(err))
}

func TestListRecent(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/job/pr-gate/api/json", r.URL.Path)
		assert.Contains(t, r.URL.Query().Get("tree"), "builds[")
		_, _ = w.Write([]byte(`{"builds":[
			{"number":12,"building":true,"timestamp":1754229600000},
			{"number":11,"result":"FAILURE","timestamp":1754226000000,"duration":1000}
		]}`))
	})

	runs, err := c.ListRecent(context.Background(), "pr-gate")
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "pr-gate#12", runs[0].ID)
	assert.Equal(t, qa.BuildRunning, runs[0].Status)
	assert.Nil(t, runs[0].FinishedAt)
	assert.Equal(t, qa.BuildFailure, runs[1].Status)
	assert.NotNil(t, runs[1].FinishedAt)
}
