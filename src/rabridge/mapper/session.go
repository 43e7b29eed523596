package mapper

import (
	"context"

	"github.com/gofrs/uuid"
	"github.com/symposium-dev/rabridge/src/rabridge/entity"
	"github.com/symposium-dev/rabridge/src/rabridge/internal/errors"
	"github.com/symposium-dev/rabridge/src/rabridge/model"
	"go.lsp.dev/protocol"
)

// SessionToModel maps a Session entity to its model equivalent.
func SessionToModel(s *entity.Session) *model.Session {
	return &model.Session{
		UUID:             s.UUID,
		State:            int(s.State),
		WorkspaceRoot:    s.WorkspaceRoot,
		InitializeResult: s.InitializeResult,
	}
}

// ModelToSession maps a model Session to its entity equivalent.
func ModelToSession(s *model.Session) (*entity.Session, error) {
	return &entity.Session{
		UUID:             s.UUID,
		State:            entity.SessionState(s.State),
		WorkspaceRoot:    s.WorkspaceRoot,
		InitializeResult: s.InitializeResult,
	}, nil
}

// ContextToSessionUUID extracts the session UUID from a context.
func ContextToSessionUUID(c context.Context) (uuid.UUID, error) {
	s, ok := c.Value(entity.SessionContextKey).(uuid.UUID)
	if !ok {
		return uuid.Nil, &errors.NoSessionFoundError{}
	}
	return s, nil
}

// SessionUUIDToContext returns a child context carrying the session UUID.
func SessionUUIDToContext(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, entity.SessionContextKey, id)
}

// DiagnosticsToModel maps a DocumentDiagnostics entity to its model equivalent.
func DiagnosticsToModel(d *entity.DocumentDiagnostics) *model.DocumentDiagnostics {
	items := make([]protocol.Diagnostic, len(d.Diagnostics))
	copy(items, d.Diagnostics)
	return &model.DocumentDiagnostics{
		URI:         d.URI,
		Diagnostics: items,
		Source:      string(d.Source),
		ReceivedAt:  d.ReceivedAt,
	}
}

// ModelToDiagnostics maps a model DocumentDiagnostics to its entity equivalent.
func ModelToDiagnostics(d *model.DocumentDiagnostics) *entity.DocumentDiagnostics {
	items := make([]protocol.Diagnostic, len(d.Diagnostics))
	copy(items, d.Diagnostics)
	return &entity.DocumentDiagnostics{
		URI:         d.URI,
		Diagnostics: items,
		Source:      entity.DiagnosticsSource(d.Source),
		ReceivedAt:  d.ReceivedAt,
	}
}
