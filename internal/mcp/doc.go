// Package mcp serves the qaflow QA actions as MCP tools.
//
// Tools are registered with the MCP SDK (github.com/modelcontextprotocol/go-sdk/mcp)
// and call the services facade directly. Every tool result carries a one-line
// summary followed by the JSON result; failures come back as tool errors whose
// text starts with the error kind's description.
package mcp
