// Package docsync keeps the backend's view of documents in sync with disk.
// Capability calls open documents lazily; opened files are then watched and
// edits are forwarded as didChange notifications with bumped versions.
package docsync

import (
	"context"
	"fmt"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/symposium-dev/rabridge/src/rabridge/gateway/analyzer"
	"github.com/symposium-dev/rabridge/src/rabridge/internal/errors"
	"github.com/symposium-dev/rabridge/src/rabridge/internal/fs"
	"github.com/symposium-dev/rabridge/src/rabridge/mapper"
	"github.com/symposium-dev/rabridge/src/rabridge/repository/documents"
	"github.com/uber-go/tally"
	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const _languageRust protocol.LanguageIdentifier = "rust"

// Module provides a docsync Controller into an Fx application.
var Module = fx.Options(
	fx.Provide(New),
	fx.Invoke(registerLifecycle),
)

// Controller opens documents on the backend and keeps them current.
type Controller interface {
	// EnsureOpen opens the document on the backend if it is not already
	// open, returning its URI. The path must be absolute.
	EnsureOpen(ctx context.Context, filePath string) (uri.URI, error)
	// Close closes the document on the backend and stops watching it.
	Close(ctx context.Context, docURI uri.URI) error
}

// Params are inbound parameters to initialize a new controller.
type Params struct {
	fx.In

	Analyzer  analyzer.Gateway
	Documents documents.Repository
	FS        fs.BridgeFS
	Logger    *zap.SugaredLogger
	Stats     tally.Scope
}

type controller struct {
	analyzer  analyzer.Gateway
	documents documents.Repository
	fs        fs.BridgeFS
	logger    *zap.SugaredLogger
	stats     tally.Scope

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	watched map[string]uri.URI
	done    chan struct{}
}

// New constructs a new docsync controller.
func New(p Params) (Controller, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}

	return &controller{
		analyzer:  p.Analyzer,
		documents: p.Documents,
		fs:        p.FS,
		logger:    p.Logger,
		stats:     p.Stats.SubScope("docsync"),
		watcher:   watcher,
		watched:   make(map[string]uri.URI),
		done:      make(chan struct{}),
	}, nil
}

func registerLifecycle(lc fx.Lifecycle, c Controller) {
	impl, ok := c.(*controller)
	if !ok {
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go impl.watchLoop()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			close(impl.done)
			return impl.watcher.Close()
		},
	})
}

func (c *controller) EnsureOpen(ctx context.Context, filePath string) (uri.URI, error) {
	docURI, err := mapper.PathToURI(filePath)
	if err != nil {
		return "", err
	}

	if c.documents.IsOpen(ctx, docURI) {
		return docURI, nil
	}

	path := docURI.Filename()
	content, err := c.fs.ReadFile(path)
	if err != nil {
		return "", &errors.InvalidParameterError{Parameter: "file_path", Reason: fmt.Sprintf("reading file: %v", err)}
	}

	params := &protocol.DidOpenTextDocumentParams{
		TextDocument: protocol.TextDocumentItem{
			URI:        docURI,
			LanguageID: _languageRust,
			Version:    1,
			Text:       string(content),
		},
	}
	if err := c.analyzer.Notify(ctx, protocol.MethodTextDocumentDidOpen, params); err != nil {
		return "", fmt.Errorf("opening document: %w", err)
	}
	c.documents.MarkOpen(ctx, docURI)
	c.watch(path, docURI)
	c.stats.Counter("documents_opened").Inc(1)
	return docURI, nil
}

func (c *controller) Close(ctx context.Context, docURI uri.URI) error {
	if !c.documents.IsOpen(ctx, docURI) {
		return nil
	}

	params := &protocol.DidCloseTextDocumentParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: docURI},
	}
	if err := c.analyzer.Notify(ctx, protocol.MethodTextDocumentDidClose, params); err != nil {
		return fmt.Errorf("closing document: %w", err)
	}
	c.documents.Remove(ctx, docURI)
	c.unwatch(docURI.Filename())
	return nil
}

func (c *controller) watch(path string, docURI uri.URI) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.watcher.Add(path); err != nil {
		// Sync degrades to open-time content for this file.
		c.logger.Warnw("watching document", "path", path, "error", err)
		return
	}
	c.watched[path] = docURI
}

func (c *controller) unwatch(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.watched[path]; !ok {
		return
	}
	if err := c.watcher.Remove(path); err != nil {
		c.logger.Debugw("unwatching document", "path", path, "error", err)
	}
	delete(c.watched, path)
}

func (c *controller) watchLoop() {
	for {
		select {
		case <-c.done:
			return
		case event, ok := <-c.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			c.syncFile(event.Name)
		case err, ok := <-c.watcher.Errors:
			if !ok {
				return
			}
			c.logger.Warnw("file watcher", "error", err)
		}
	}
}

// syncFile pushes the file's current content as a full-document change.
func (c *controller) syncFile(path string) {
	c.mu.Lock()
	docURI, ok := c.watched[path]
	c.mu.Unlock()
	if !ok {
		return
	}

	ctx := context.Background()
	if !c.documents.IsOpen(ctx, docURI) {
		return
	}

	content, err := c.fs.ReadFile(path)
	if err != nil {
		c.logger.Debugw("reading changed document", "path", path, "error", err)
		return
	}

	version := c.documents.NextVersion(ctx, docURI)
	params := &protocol.DidChangeTextDocumentParams{
		TextDocument: protocol.VersionedTextDocumentIdentifier{
			TextDocumentIdentifier: protocol.TextDocumentIdentifier{URI: docURI},
			Version:                version,
		},
		ContentChanges: []protocol.TextDocumentContentChangeEvent{
			{Text: string(content)},
		},
	}
	if err := c.analyzer.Notify(ctx, protocol.MethodTextDocumentDidChange, params); err != nil {
		c.logger.Warnw("syncing changed document", "path", path, "error", err)
		return
	}
	c.stats.Counter("documents_synced").Inc(1)
}
