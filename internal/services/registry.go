package services

import (
	"time"

	"github.com/fyrsmithlabs/qaflow/internal/aggregate"
	"github.com/fyrsmithlabs/qaflow/internal/buildwait"
	"github.com/fyrsmithlabs/qaflow/internal/correlate"
	"github.com/fyrsmithlabs/qaflow/internal/deploy"
	"github.com/fyrsmithlabs/qaflow/internal/qa"
	"github.com/fyrsmithlabs/qaflow/internal/resilience"
	"github.com/fyrsmithlabs/qaflow/internal/secrets"
	"github.com/fyrsmithlabs/qaflow/internal/workflow"
)

// Registry provides access to the backend ports and orchestration components.
type Registry interface {
	Tickets() qa.TicketPort
	Searcher() qa.TicketSearcher
	CodeHost() qa.CodeHostPort
	Builds() qa.BuildPort
	Deploy() qa.DeployPort
	Chat() qa.ChatPort

	Correlator() *correlate.Correlator
	Comparator() *deploy.Comparator
	Waiter() *buildwait.Waiter
	Aggregator() *aggregate.Aggregator
	Workflow() *workflow.Workflow
}

// Ports holds the backend adapters. Search, Descriptions and Chat may be nil.
type Ports struct {
	Tickets      qa.TicketPort
	Search       qa.TicketSearcher
	CodeHost     qa.CodeHostPort
	Descriptions qa.DescriptionEditor
	Builds       qa.BuildPort
	Deploy       qa.DeployPort
	Chat         qa.ChatPort
}

// Settings holds the orchestration settings shared by the components.
type Settings struct {
	Environments      []string
	VerifyEnvironment string
	ClockSkew         time.Duration

	// Jobs holds named CI job paths; "e2e" is the default trigger target.
	Jobs map[string]string

	// RepoJobs maps a repository to the job that builds its branches.
	RepoJobs        map[string]string
	BranchParameter string

	PollInterval time.Duration
	MaxWait      time.Duration
	RequireBuild bool

	Transitions map[string]workflow.Transition
	Fields      map[string]bool
	NotifyRoom  string

	// Project and TrackerUser fill ticket queries that name neither.
	Project     string
	TrackerUser string
	Queries     map[string]string

	Policy resilience.Policy

	// Scrubber redacts credentials from comments and chat messages. Nil
	// leaves text as written.
	Scrubber *secrets.Scrubber
}

type registry struct {
	ports      Ports
	correlator *correlate.Correlator
	comparator *deploy.Comparator
	waiter     *buildwait.Waiter
	aggregator *aggregate.Aggregator
	workflow   *workflow.Workflow
}

// NewRegistry wires the orchestration components over ports.
func NewRegistry(ports Ports, s Settings) Registry {
	s.Policy.ApplyDefaults()

	correlator := correlate.New(ports.CodeHost, s.Policy)
	comparator := deploy.NewComparator(ports.Deploy, s.Policy)
	waiter := buildwait.New(ports.Builds, ports.Descriptions, buildwait.Config{
		PollInterval:    s.PollInterval,
		MaxWait:         s.MaxWait,
		BranchParameter: s.BranchParameter,
		Policy:          s.Policy,
	})
	aggregator := aggregate.New(ports.Tickets, correlator, comparator, waiter, aggregate.Config{
		Environments:      s.Environments,
		VerifyEnvironment: s.VerifyEnvironment,
		ClockSkew:         s.ClockSkew,
		RepoJobs:          s.RepoJobs,
		Policy:            s.Policy,
	})

	wf := workflow.New(ports.Tickets, aggregator, ports.Chat, workflow.Config{
		Transitions:       s.Transitions,
		Fields:            s.Fields,
		VerifyEnvironment: s.VerifyEnvironment,
		RequireBuild:      s.RequireBuild,
		NotifyRoom:        s.NotifyRoom,
		Policy:            s.Policy,
	})

	return &registry{
		ports:      ports,
		correlator: correlator,
		comparator: comparator,
		waiter:     waiter,
		aggregator: aggregator,
		workflow:   wf,
	}
}

func (r *registry) Tickets() qa.TicketPort            { return r.ports.Tickets }
func (r *registry) Searcher() qa.TicketSearcher       { return r.ports.Search }
func (r *registry) CodeHost() qa.CodeHostPort         { return r.ports.CodeHost }
func (r *registry) Builds() qa.BuildPort              { return r.ports.Builds }
func (r *registry) Deploy() qa.DeployPort             { return r.ports.Deploy }
func (r *registry) Chat() qa.ChatPort                 { return r.ports.Chat }
func (r *registry) Correlator() *correlate.Correlator { return r.correlator }
func (r *registry) Comparator() *deploy.Comparator    { return r.comparator }
func (r *registry) Waiter() *buildwait.Waiter         { return r.waiter }
func (r *registry) Aggregator() *aggregate.Aggregator { return r.aggregator }
func (r *registry) Workflow() *workflow.Workflow      { return r.workflow }
