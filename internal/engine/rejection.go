// Tatami - Live Tournament Operations Backend
// Copyright 2026 Tatami Live (tatamilive)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tatamilive/tatami

package engine

import (
	"errors"
	"fmt"
)

// RejectionKind classifies why the engine refused a command.
type RejectionKind string

const (
	RejectInvalidTransition  RejectionKind = "InvalidTransition"
	RejectUnauthorized       RejectionKind = "Unauthorized"
	RejectUnknownParticipant RejectionKind = "UnknownParticipant"
	RejectMalformedCommand   RejectionKind = "MalformedCommand"
	RejectMatchTerminal      RejectionKind = "MatchTerminal"
)

// Rejection is a typed refusal. A rejected command produces no events and
// leaves the match untouched.
type Rejection struct {
	Kind    RejectionKind
	Message string
}

// Error implements the error interface.
func (r *Rejection) Error() string {
	return fmt.Sprintf("%s: %s", r.Kind, r.Message)
}

func reject(kind RejectionKind, format string, args ...interface{}) *Rejection {
	return &Rejection{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// AsRejection unwraps err into a *Rejection if one is in its chain.
func AsRejection(err error) (*Rejection, bool) {
	var r *Rejection
	if errors.As(err, &r) {
		return r, true
	}
	return nil, false
}
