// Package main is the entry point for the snipbox server.
//
// The snipbox server receives short code snippets as UDP datagrams, validates
// them, and runs each accepted snippet in a capability-restricted interpreter
// under a wall-clock time limit. Every acceptance, rejection and outcome is
// written to a serialized audit log. An optional MCP control surface and a
// Prometheus/health endpoint are available for operators.
//
// The application uses Uber's fx framework for dependency injection and lifecycle
// management, with zap for structured logging and viper for configuration.
package main
