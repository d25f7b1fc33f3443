// Package qatest provides testify mocks and an in-memory tracker for the qa ports.
package qatest

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/fyrsmithlabs/qaflow/internal/qa"
)

// TicketPort is a mock qa.TicketPort.
type TicketPort struct {
	mock.Mock
}

func (m *TicketPort) Get(ctx context.Context, key string) (*qa.TicketRef, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*qa.TicketRef), args.Error(1)
}

func (m *TicketPort) SetFields(ctx context.Context, key string, fields map[string]any) error {
	args := m.Called(ctx, key, fields)
	return args.Error(0)
}

func (m *TicketPort) Transition(ctx context.Context, key, transitionID string) error {
	args := m.Called(ctx, key, transitionID)
	return args.Error(0)
}

func (m *TicketPort) AddComment(ctx context.Context, key, text string) error {
	args := m.Called(ctx, key, text)
	return args.Error(0)
}

// TicketSearcher is a mock qa.TicketSearcher.
type TicketSearcher struct {
	mock.Mock
}

func (m *TicketSearcher) SearchTickets(ctx context.Context, query string, max int) ([]qa.TicketRef, error) {
	args := m.Called(ctx, query, max)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]qa.TicketRef), args.Error(1)
}

// CodeHostPort is a mock qa.CodeHostPort.
type CodeHostPort struct {
	mock.Mock
}

func (m *CodeHostPort) FindChangesReferencing(ctx context.Context, text string) ([]qa.CodeChange, error) {
	args := m.Called(ctx, text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]qa.CodeChange), args.Error(1)
}

func (m *CodeHostPort) GetChange(ctx context.Context, id string) (*qa.CodeChange, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*qa.CodeChange), args.Error(1)
}

func (m *CodeHostPort) GetCommit(ctx context.Context, sha string) (*qa.Commit, error) {
	args := m.Called(ctx, sha)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*qa.Commit), args.Error(1)
}

// DescriptionEditor is a mock qa.DescriptionEditor.
type DescriptionEditor struct {
	mock.Mock
}

func (m *DescriptionEditor) GetDescription(ctx context.Context, changeID string) (string, error) {
	args := m.Called(ctx, changeID)
	return args.String(0), args.Error(1)
}

func (m *DescriptionEditor) UpdateDescription(ctx context.Context, changeID, body string) error {
	args := m.Called(ctx, changeID, body)
	return args.Error(0)
}

// BuildPort is a mock qa.BuildPort.
type BuildPort struct {
	mock.Mock
}

func (m *BuildPort) GetStatus(ctx context.Context, buildID string) (*qa.BuildRun, error) {
	args := m.Called(ctx, buildID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*qa.BuildRun), args.Error(1)
}

func (m *BuildPort) Trigger(ctx context.Context, jobPath string, params map[string]string) (*qa.BuildRun, error) {
	args := m.Called(ctx, jobPath, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*qa.BuildRun), args.Error(1)
}

func (m *BuildPort) ListRecent(ctx context.Context, jobPath string) ([]qa.BuildRun, error) {
	args := m.Called(ctx, jobPath)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]qa.BuildRun), args.Error(1)
}

// DeployPort is a mock qa.DeployPort.
type DeployPort struct {
	mock.Mock
}

func (m *DeployPort) GetLastModified(ctx context.Context, artifactID, environment string) (*qa.DeploymentMarker, error) {
	args := m.Called(ctx, artifactID, environment)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*qa.DeploymentMarker), args.Error(1)
}

// ChatPort is a mock qa.ChatPort.
type ChatPort struct {
	mock.Mock
}

func (m *ChatPort) PostMessage(ctx context.Context, roomID, markdown string) error {
	args := m.Called(ctx, roomID, markdown)
	return args.Error(0)
}
