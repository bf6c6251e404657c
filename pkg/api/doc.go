// Package api exposes the HTTP surface of the orchestrator: rule CRUD,
// execution endpoints, adapter and execution introspection, a health
// check, prometheus metrics, and a websocket event stream.
package api
