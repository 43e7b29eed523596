package entity

import (
	"time"

	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"
)

// DiagnosticsSource identifies how a diagnostics set reached the bridge.
type DiagnosticsSource string

const (
	// DiagnosticsSourcePush marks diagnostics delivered by a textDocument/publishDiagnostics notification.
	DiagnosticsSourcePush DiagnosticsSource = "push"
	// DiagnosticsSourcePull marks diagnostics fetched by a textDocument/diagnostic request.
	DiagnosticsSourcePull DiagnosticsSource = "pull"
)

// DocumentDiagnostics is the most recent diagnostics set known for one document.
type DocumentDiagnostics struct {
	URI         uri.URI               `json:"uri"`
	Diagnostics []protocol.Diagnostic `json:"diagnostics"`
	Source      DiagnosticsSource     `json:"source"`
	ReceivedAt  time.Time             `json:"receivedAt"`
}

// DocumentDiagnosticParams requests pull diagnostics for a single document.
// go.lsp.dev/protocol predates pull diagnostics, so the wire shapes live here.
type DocumentDiagnosticParams struct {
	TextDocument     protocol.TextDocumentIdentifier `json:"textDocument"`
	Identifier       string                          `json:"identifier,omitempty"`
	PreviousResultID string                          `json:"previousResultId,omitempty"`
}

// FullDocumentDiagnosticReport is the "full" variant of a pull diagnostics response.
type FullDocumentDiagnosticReport struct {
	Kind     string                `json:"kind"`
	ResultID string                `json:"resultId,omitempty"`
	Items    []protocol.Diagnostic `json:"items"`
}

// WorkspaceDiagnosticParams requests diagnostics for the whole workspace.
type WorkspaceDiagnosticParams struct {
	Identifier        string             `json:"identifier,omitempty"`
	PreviousResultIDs []PreviousResultID `json:"previousResultIds"`
}

// PreviousResultID pairs a document with the result id of its last report.
type PreviousResultID struct {
	URI   uri.URI `json:"uri"`
	Value string  `json:"value"`
}

// WorkspaceDiagnosticReport is the response shape of workspace/diagnostic.
type WorkspaceDiagnosticReport struct {
	Items []WorkspaceDocumentDiagnosticReport `json:"items"`
}

// WorkspaceDocumentDiagnosticReport is one document's entry in a workspace diagnostics report.
type WorkspaceDocumentDiagnosticReport struct {
	Kind     string                `json:"kind"`
	ResultID string                `json:"resultId,omitempty"`
	URI      uri.URI               `json:"uri"`
	Version  *int32                `json:"version"`
	Items    []protocol.Diagnostic `json:"items,omitempty"`
}
