// Package mcp implements MCP (Model Context Protocol) client support,
// letting toolgate talk to external MCP tool servers and surface their
// tools to the chat layer.
//
// MCP uses JSON-RPC 2.0 over two transports: newline-delimited messages
// on the stdin/stdout pipes of a supervised local process, and JSON over
// HTTP POST for remote endpoints. The session performs the initialize
// handshake, discovers tools via tools/list, and invokes them via
// tools/call.
//
// This implementation covers the client/host side only — toolgate does
// not act as an MCP server.
package mcp
