// Package integration contains integration tests for the gatekeeper.
//
// These tests use testcontainers to spin up real dependencies (Redis,
// PostgreSQL and MySQL) and exercise the session stores, the endpoint
// registry source and the full authorization pipeline against them in an
// environment that closely matches production.
package integration
