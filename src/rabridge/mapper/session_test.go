package mapper

import (
	"context"
	"testing"
	"time"

	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/symposium-dev/rabridge/src/rabridge/entity"
	"github.com/symposium-dev/rabridge/src/rabridge/internal/errors"
	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"
)

func TestSessionRoundTrip(t *testing.T) {
	id, err := uuid.NewV4()
	require.NoError(t, err)

	in := &entity.Session{
		UUID:          id,
		State:         entity.StateReady,
		WorkspaceRoot: "/tmp/project",
		InitializeResult: &protocol.InitializeResult{
			ServerInfo: &protocol.ServerInfo{Name: "rust-analyzer"},
		},
	}

	out, err := ModelToSession(SessionToModel(in))
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestContextToSessionUUID(t *testing.T) {
	id, err := uuid.NewV4()
	require.NoError(t, err)

	got, err := ContextToSessionUUID(SessionUUIDToContext(context.Background(), id))
	require.NoError(t, err)
	assert.Equal(t, id, got)
}

func TestContextToSessionUUIDMissing(t *testing.T) {
	_, err := ContextToSessionUUID(context.Background())
	var noSession *errors.NoSessionFoundError
	assert.ErrorAs(t, err, &noSession)
}

func TestDiagnosticsRoundTripCopies(t *testing.T) {
	in := &entity.DocumentDiagnostics{
		URI:         uri.URI("file:///a.rs"),
		Diagnostics: []protocol.Diagnostic{{Message: "original"}},
		Source:      entity.DiagnosticsSourcePush,
		ReceivedAt:  time.Now(),
	}

	m := DiagnosticsToModel(in)
	in.Diagnostics[0].Message = "mutated"
	assert.Equal(t, "original", m.Diagnostics[0].Message)

	out := ModelToDiagnostics(m)
	m.Diagnostics[0].Message = "mutated again"
	assert.Equal(t, "original", out.Diagnostics[0].Message)
	assert.Equal(t, entity.DiagnosticsSourcePush, out.Source)
	assert.Equal(t, in.URI, out.URI)
}
