//go:build tools

// Pins lint tooling in go.sum so CI and local runs use the same version.
// Run with: go run github.com/golangci/golangci-lint/cmd/golangci-lint run ./...
package tools

import (
	_ "github.com/golangci/golangci-lint/cmd/golangci-lint"
)
