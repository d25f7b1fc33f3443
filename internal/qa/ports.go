package qa

import "context"

// Semantic ticket field names. Adapters translate them to tracker field ids.
const (
	FieldAssignee   = "assignee"
	FieldValidator  = "validator"
	FieldTestResult = "test_result"
)

// Test result values written to FieldTestResult.
const (
	TestResultInProgress = "in_progress"
	TestResultPass       = "pass"
	TestResultFail       = "fail"
)

// TicketPort is the issue-tracker contract.
type TicketPort interface {
	Get(ctx context.Context, key string) (*TicketRef, error)
	SetFields(ctx context.Context, key string, fields map[string]any) error
	Transition(ctx context.Context, key, transitionID string) error
	AddComment(ctx context.Context, key, text string) error
}

// TicketSearcher lists tickets matching a tracker query, in the tracker's
// order, up to max results.
type TicketSearcher interface {
	SearchTickets(ctx context.Context, query string, max int) ([]TicketRef, error)
}

// CodeHostPort is the source-control host contract.
type CodeHostPort interface {
	FindChangesReferencing(ctx context.Context, text string) ([]CodeChange, error)
	GetChange(ctx context.Context, id string) (*CodeChange, error)
	GetCommit(ctx context.Context, sha string) (*Commit, error)
}

// DescriptionEditor reads and replaces a code change's description.
type DescriptionEditor interface {
	GetDescription(ctx context.Context, changeID string) (string, error)
	UpdateDescription(ctx context.Context, changeID, body string) error
}

// BuildPort is the CI contract.
type BuildPort interface {
	GetStatus(ctx context.Context, buildID string) (*BuildRun, error)
	Trigger(ctx context.Context, jobPath string, params map[string]string) (*BuildRun, error)
	ListRecent(ctx context.Context, jobPath string) ([]BuildRun, error)
}

// DeployPort is the deployment-target contract.
type DeployPort interface {
	GetLastModified(ctx context.Context, artifactID, environment string) (*DeploymentMarker, error)
}

// ChatPort posts notifications to a chat room.
type ChatPort interface {
	PostMessage(ctx context.Context, roomID, markdown string) error
}
