package http

import "github.com/fyrsmithlabs/qaflow/internal/qa"

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
}

// FindTicketsRequest holds the query parameters of GET /api/v1/tickets.
type FindTicketsRequest struct {
	Query   string `query:"query"`
	Project string `query:"project"`
	User    string `query:"user"`
	Limit   int    `query:"limit"`
}

// ClaimRequest is the body of POST /api/v1/tickets/:key/claim.
type ClaimRequest struct {
	Validator string `json:"validator"`
}

// ResolvePassRequest is the body of POST /api/v1/tickets/:key/resolve-pass.
type ResolvePassRequest struct {
	Comment string `json:"comment"`
}

// ResolveFailRequest is the body of POST /api/v1/tickets/:key/resolve-fail.
type ResolveFailRequest struct {
	BugReport string `json:"bug_report"`
}

// VerifyRequest is the optional body of POST /api/v1/tickets/:key/verify.
type VerifyRequest struct {
	Environment  string `json:"environment,omitempty"`
	RequireBuild *bool  `json:"require_build,omitempty"`
	Summary      string `json:"summary,omitempty"`
}

// WaitBuildRequest is the body of POST /api/v1/builds/wait.
type WaitBuildRequest struct {
	BuildID             string `json:"build_id"`
	ChangeID            string `json:"change_id,omitempty"`
	PollIntervalSeconds int    `json:"poll_interval_seconds,omitempty"`
	MaxWaitSeconds      int    `json:"max_wait_seconds,omitempty"`
}

// ErrorResponse is the body of every failed request. Details carries the
// partial result, such as the step report of a partially applied update.
type ErrorResponse struct {
	Kind    qa.Kind `json:"kind"`
	Error   string  `json:"error"`
	Details any     `json:"details,omitempty"`
}
