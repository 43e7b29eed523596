package mapper

import (
	"os"
	"path/filepath"

	"github.com/symposium-dev/rabridge/src/rabridge/entity"
	"github.com/symposium-dev/rabridge/src/rabridge/internal/errors"
	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"
)

// PathToURI validates that path is absolute and converts it to a file URI.
// Paths that already carry a file scheme are passed through.
func PathToURI(path string) (uri.URI, error) {
	if len(path) > 7 && path[:7] == "file://" {
		return uri.URI(path), nil
	}
	if !filepath.IsAbs(path) {
		return "", &errors.InvalidParameterError{Parameter: "file_path", Reason: "path must be absolute"}
	}
	return uri.File(filepath.Clean(path)), nil
}

// Position builds a protocol position from zero-based line and character.
func Position(line, character uint32) protocol.Position {
	return protocol.Position{Line: line, Character: character}
}

// InitializeParams builds the handshake request for the given workspace root.
// The initialization options and advertised capabilities mirror what the
// bridge actually implements; serverStatusNotification opts into the
// readiness signal awaited before the session is declared usable.
func InitializeParams(workspaceRoot string) *protocol.InitializeParams {
	rootURI := uri.File(workspaceRoot)

	params := &protocol.InitializeParams{
		ProcessID: int32(os.Getpid()),
		ClientInfo: &protocol.ClientInfo{
			Name:    "rabridge",
			Version: "0.1.0",
		},
		RootURI: protocol.DocumentURI(rootURI),
		InitializationOptions: map[string]interface{}{
			"cargo": map[string]interface{}{
				"buildScripts": map[string]interface{}{"enable": true},
			},
			"checkOnSave": map[string]interface{}{
				"enable":     true,
				"command":    "check",
				"allTargets": true,
			},
			"diagnostics": map[string]interface{}{
				"enable": true,
			},
			"procMacro": map[string]interface{}{
				"enable": true,
			},
		},
		Capabilities: protocol.ClientCapabilities{
			TextDocument: &protocol.TextDocumentClientCapabilities{
				Synchronization: &protocol.TextDocumentSyncClientCapabilities{
					DynamicRegistration: false,
				},
				Hover: &protocol.HoverTextDocumentClientCapabilities{
					DynamicRegistration: false,
					ContentFormat:       []protocol.MarkupKind{protocol.Markdown, protocol.PlainText},
				},
				Completion: &protocol.CompletionTextDocumentClientCapabilities{
					DynamicRegistration: false,
				},
				Definition: &protocol.DefinitionTextDocumentClientCapabilities{
					DynamicRegistration: false,
					LinkSupport:         false,
				},
				References: &protocol.ReferencesTextDocumentClientCapabilities{
					DynamicRegistration: false,
				},
				DocumentSymbol: &protocol.DocumentSymbolClientCapabilities{
					DynamicRegistration:               false,
					HierarchicalDocumentSymbolSupport: true,
				},
				Formatting: &protocol.DocumentFormattingClientCapabilities{
					DynamicRegistration: false,
				},
				CodeAction: &protocol.CodeActionClientCapabilities{
					DynamicRegistration: false,
				},
				PublishDiagnostics: &protocol.PublishDiagnosticsClientCapabilities{
					RelatedInformation: true,
				},
			},
			Workspace: &protocol.WorkspaceClientCapabilities{
				WorkspaceFolders: true,
			},
			Window: &protocol.WindowClientCapabilities{
				WorkDoneProgress: true,
			},
			Experimental: map[string]interface{}{
				"serverStatusNotification": true,
			},
		},
		Trace: protocol.TraceOff,
		WorkspaceFolders: []protocol.WorkspaceFolder{
			{
				URI:  string(rootURI),
				Name: filepath.Base(workspaceRoot),
			},
		},
	}

	return params
}

// WorkspaceFoldersChange builds the notification params for swapping the
// active workspace root.
func WorkspaceFoldersChange(oldRoot, newRoot string) *protocol.DidChangeWorkspaceFoldersParams {
	params := &protocol.DidChangeWorkspaceFoldersParams{
		Event: protocol.WorkspaceFoldersChangeEvent{
			Added: []protocol.WorkspaceFolder{
				{URI: string(uri.File(newRoot)), Name: filepath.Base(newRoot)},
			},
		},
	}
	if oldRoot != "" {
		params.Event.Removed = []protocol.WorkspaceFolder{
			{URI: string(uri.File(oldRoot)), Name: filepath.Base(oldRoot)},
		}
	}
	return params
}

// CacheToWorkspaceReport shapes a diagnostics-cache snapshot into a workspace
// diagnostics report, for when the backend cannot serve the pull form itself.
func CacheToWorkspaceReport(cached []*entity.DocumentDiagnostics) *entity.WorkspaceDiagnosticReport {
	report := &entity.WorkspaceDiagnosticReport{
		Items: make([]entity.WorkspaceDocumentDiagnosticReport, 0, len(cached)),
	}
	for _, d := range cached {
		report.Items = append(report.Items, entity.WorkspaceDocumentDiagnosticReport{
			Kind:  "full",
			URI:   d.URI,
			Items: d.Diagnostics,
		})
	}
	return report
}

// PullToDiagnostics shapes a pull report into the cache entity form.
func PullToDiagnostics(docURI uri.URI, report *entity.FullDocumentDiagnosticReport) *entity.DocumentDiagnostics {
	items := report.Items
	if items == nil {
		items = []protocol.Diagnostic{}
	}
	return &entity.DocumentDiagnostics{
		URI:         docURI,
		Diagnostics: items,
		Source:      entity.DiagnosticsSourcePull,
	}
}
