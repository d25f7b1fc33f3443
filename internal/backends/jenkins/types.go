package jenkins

import (
	"fmt"
	"strconv"
	"time"

	"github.com/fyrsmithlabs/qaflow/internal/qa"
)

type parameter struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

type action struct {
	Parameters []parameter `json:"parameters"`
}

func parametersOf(actions []action) map[string]string {
	var params map[string]string
	for _, a := range actions {
		for _, p := range a.Parameters {
			if params == nil {
				params = make(map[string]string)
			}
			params[p.Name] = stringValue(p.Value)
		}
	}
	return params
}

func stringValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}

type build struct {
	Number    int      `json:"number"`
	Result    *string  `json:"result"`
	Building  bool     `json:"building"`
	Timestamp int64    `json:"timestamp"`
	Duration  int64    `json:"duration"`
	URL       string   `json:"url"`
	Actions   []action `json:"actions"`
}

type queueItem struct {
	ID         int      `json:"id"`
	Cancelled  bool     `json:"cancelled"`
	Why        string   `json:"why"`
	Actions    []action `json:"actions"`
	Executable *struct {
		Number int    `json:"number"`
		URL    string `json:"url"`
	} `json:"executable"`
}

func (q *queueItem) parameters() map[string]string {
	return parametersOf(q.Actions)
}

// status maps Jenkins' building flag and result onto a build status.
func (b *build) status() qa.BuildStatus {
	if b.Building {
		return qa.BuildRunning
	}
	if b.Result == nil {
		return qa.BuildQueued
	}
	switch *b.Result {
	case "SUCCESS":
		return qa.BuildSuccess
	case "FAILURE", "UNSTABLE":
		return qa.BuildFailure
	case "ABORTED", "NOT_BUILT":
		return qa.BuildAborted
	default:
		return qa.BuildUnknown
	}
}

func (b *build) toRun(jobPath string) qa.BuildRun {
	run := qa.BuildRun{
		ID:         BuildID(jobPath, b.Number),
		Status:     b.status(),
		URL:        b.URL,
		Parameters: parametersOf(b.Actions),
	}
	if b.Timestamp > 0 {
		run.StartedAt = time.UnixMilli(b.Timestamp).UTC()
		if run.Status.Terminal() {
			finished := run.StartedAt.Add(time.Duration(b.Duration) * time.Millisecond)
			run.FinishedAt = &finished
		}
	}
	return run
}
