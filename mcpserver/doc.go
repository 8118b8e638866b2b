// Package mcpserver provides the Model Context Protocol (MCP) control surface.
//
// The mcpserver package exposes three tools built with the mark3labs/mcp-go
// library: validate_snippet runs the validator without executing anything,
// submit_snippet schedules a snippet through the dispatcher exactly like a
// UDP message, and list_capabilities reports the active whitelist.
//
// The server supports both stdio and HTTP transports as configured by the
// control section of the application configuration.
//
// Usage:
//
//	server, err := mcpserver.New(config, logger, dispatcher, executor.Capabilities())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	err = server.ServeStdio() // or server.ServeHTTP()
package mcpserver
