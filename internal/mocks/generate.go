// Package mocks provides generated mock implementations for testing the
// orchestration core.
//
// This package uses go.uber.org/mock (gomock) to generate type-safe mocks
// for the collaborator interfaces in internal/core. To regenerate after an
// interface change, run:
//
//	go generate ./internal/mocks
package mocks

// Generate mocks for the external collaborator interfaces (ToolExecutor,
// ToolProposer, ChannelAdapter) from internal/core.
//go:generate go run go.uber.org/mock/mockgen -source=../core/collaborators.go -destination=collaborators_mock.go -package=mocks
