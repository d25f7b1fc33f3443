package github

import (
	"context"
	"errors"
	"net/http"

	gh "github.com/google/go-github/v57/github"

	"github.com/fyrsmithlabs/qaflow/internal/backends/rest"
	"github.com/fyrsmithlabs/qaflow/internal/qa"
)

// classify maps a GitHub API failure onto the qa taxonomy. Rate limiting and
// server errors are transient; 404 is not found; other client errors are not
// retryable.
func classify(op string, resp *gh.Response, err error, ident string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var rateErr *gh.RateLimitError
	var abuseErr *gh.AbuseRateLimitError
	if errors.As(err, &rateErr) || errors.As(err, &abuseErr) {
		return qa.Transient(op, err, ident)
	}

	if resp == nil || resp.Response == nil {
		// No response means the request never completed.
		return qa.Transient(op, err, ident)
	}

	code := resp.StatusCode
	switch {
	case code == http.StatusNotFound:
		return qa.NotFound(op, err, ident)
	case code == http.StatusForbidden && resp.Rate.Limit > 0 && resp.Rate.Remaining == 0:
		return qa.Transient(op, err, ident)
	case rest.RetryableStatus(code):
		return qa.Transient(op, err, ident)
	default:
		return qa.NewError(op, qa.KindInternal, err, ident)
	}
}
