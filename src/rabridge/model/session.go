package model

import (
	"time"

	"github.com/gofrs/uuid"
	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"
)

// Session is the repository layer model for a backend session.
type Session struct {
	UUID             uuid.UUID
	State            int
	WorkspaceRoot    string
	InitializeResult *protocol.InitializeResult
}

// DocumentDiagnostics is the repository layer model for one document's cached diagnostics.
type DocumentDiagnostics struct {
	URI         uri.URI
	Diagnostics []protocol.Diagnostic
	Source      string
	ReceivedAt  time.Time
}
