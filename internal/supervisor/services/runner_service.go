// Tatami - Live Tournament Operations Backend
// Copyright 2026 Tatami Live (tatamilive)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tatamilive/tatami

package services

import (
	"context"
)

// Runner is any component with a blocking, context-bounded run loop.
//
// Satisfied by the hub, the dispatcher and the ticker manager, all of
// which expose Serve(ctx) error.
type Runner interface {
	Serve(ctx context.Context) error
}

// RunnerService adapts a Runner into a supervised service with a stable
// name for supervisor logs.
type RunnerService struct {
	runner Runner
	name   string
}

// NewRunnerService wraps a runner under the given service name.
func NewRunnerService(name string, runner Runner) *RunnerService {
	return &RunnerService{runner: runner, name: name}
}

// Serve implements suture.Service.
func (s *RunnerService) Serve(ctx context.Context) error {
	return s.runner.Serve(ctx)
}

// String implements fmt.Stringer for logging.
// Suture uses this to identify the service in log messages.
func (s *RunnerService) String() string {
	return s.name
}
