// Package entity contains the domain logic for the rabridge service.
package entity

import (
	"github.com/gofrs/uuid"
	"go.lsp.dev/protocol"
)

type keyType string

// SessionContextKey indicates the key to be used to identify the session UUID in the context.
const SessionContextKey keyType = "SessionUUID"

// SessionState describes the lifecycle stage of a backend session.
type SessionState int

const (
	// StateUninitialized is the state before the backend process has been spawned.
	StateUninitialized SessionState = iota
	// StateInitializing covers the handshake: initialize request sent, readiness signal not yet observed.
	StateInitializing
	// StateReady is the only state in which capability calls are accepted.
	StateReady
	// StateShuttingDown is entered once shutdown begins; no new requests are accepted.
	StateShuttingDown
	// StateTerminated is terminal. The backend process is gone and the session cannot be revived.
	StateTerminated
)

// String implements fmt.Stringer.
func (s SessionState) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateShuttingDown:
		return "shutting-down"
	case StateTerminated:
		return "terminated"
	}
	return "unknown"
}

// CanTransition reports whether a transition from s to next is legal.
// Transitions are monotonic, with two exceptions: any state may jump to
// Terminated on a fatal fault, and Ready may return to Initializing when a
// workspace-root change forces a re-handshake.
func (s SessionState) CanTransition(next SessionState) bool {
	if next == StateTerminated {
		return true
	}
	switch s {
	case StateUninitialized:
		return next == StateInitializing
	case StateInitializing:
		return next == StateReady || next == StateShuttingDown
	case StateReady:
		return next == StateInitializing || next == StateShuttingDown
	}
	return false
}

// Session entity representing one backend subprocess and its handshake state.
type Session struct {
	UUID             uuid.UUID                  `json:"uuid" zap:"uuid"`
	State            SessionState               `json:"state" zap:"state"`
	WorkspaceRoot    string                     `json:"workspaceRoot" zap:"workspaceRoot"`
	InitializeResult *protocol.InitializeResult `json:"-" zap:"-"`
}

// AcceptsCalls reports whether capability calls may be issued against this session.
func (s *Session) AcceptsCalls() bool {
	return s.State == StateReady
}
