// Package services provides the qaflow service registry and facade.
//
// The registry holds the backend ports and the orchestration components built
// on them (correlator, comparator, build waiter, context aggregator and ticket
// workflow). Service exposes one method per QA action; the MCP, HTTP and CLI
// surfaces call it and never touch backends directly.
//
// FromConfig builds everything from loaded configuration. Tests use
// NewRegistry with ports from internal/qa/qatest.
package services
