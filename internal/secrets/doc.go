// Package secrets redacts credentials from text qaflow writes to other
// systems: ticket comments, bug reports and chat messages. Test notes often
// quote logs or curl commands, and those end up world-readable in Jira.
package secrets
