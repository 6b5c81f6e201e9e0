package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bmatcuk/doublestar"
	gsync "github.com/kralicky/gpkg/sync"
	"github.com/kralicky/tools-lite/gopls/pkg/protocol"
	"github.com/kralicky/tools-lite/pkg/jsonrpc2"
)

// regionDiagnosticSource keys the extractor's own diagnostics in the
// per-host diagnostic registry, alongside the per-language entries.
const regionDiagnosticSource = "polyls"

// Server is the polyglot document bridge: it presents itself to the editor
// as the language server for host documents, partitions each host document
// into per-language synthetic documents, forwards requests to the real
// language servers, and translates every response back into host
// coordinates. From the editor's side the result is indistinguishable from
// a response the host document's own language server would have produced.
type Server struct {
	client      protocol.Client
	settings    Settings
	registry    *Registry
	translator  *Translator
	diagnostics *DiagnosticRegistry
	pool        *ClientPool
	contexts    gsync.Map[string, *TranslationContext]
}

func NewServer(client protocol.Client) *Server {
	return &Server{client: client}
}

// HandleRequest dispatches one protocol request or notification from the
// editor. Methods the bridge does not translate are refused rather than
// half-forwarded.
func (s *Server) HandleRequest(ctx context.Context, method string, params json.RawMessage) (any, error) {
	if s.registry == nil {
		switch method {
		case "initialize":
			return s.initialize(ctx, params)
		case "initialized", "exit", "$/setTrace":
			return nil, nil
		default:
			return nil, fmt.Errorf("%w: %q sent before initialize", jsonrpc2.ErrInvalidRequest, method)
		}
	}
	switch method {
	case "initialize":
		return s.initialize(ctx, params)
	case "initialized", "textDocument/didSave", "$/setTrace", "workspace/didChangeConfiguration":
		return nil, nil
	case "shutdown":
		s.pool.Close()
		return nil, nil
	case "exit":
		return nil, nil
	case "textDocument/didOpen":
		return nil, s.didOpen(ctx, params)
	case "textDocument/didChange":
		return nil, s.didChange(ctx, params)
	case "textDocument/didClose":
		return nil, s.didClose(ctx, params)
	case "textDocument/documentSymbol":
		var p struct {
			TextDocument protocol.TextDocumentIdentifier `json:"textDocument"`
		}
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, err
		}
		return s.dispatchFanOut(ctx, method, params, p.TextDocument.URI)
	case "completionItem/resolve":
		return s.dispatchCompletionResolve(ctx, params)
	default:
		if _, ok := responseRules[method]; ok {
			return s.dispatchPositional(ctx, method, params)
		}
		return nil, jsonrpc2.ErrMethodNotFound
	}
}

func (s *Server) initialize(ctx context.Context, params json.RawMessage) (*protocol.InitializeResult, error) {
	var p struct {
		InitializationOptions any `json:"initializationOptions"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, err
	}
	settings, err := DecodeSettings(p.InitializationOptions)
	if err != nil {
		slog.With("error", err).Warn("invalid initialization options, using defaults")
	}
	if level, ok := ParseLogLevel(settings.LogLevel); ok {
		GlobalAtomicLeveler.SetLevel(level)
	}
	s.settings = settings
	s.registry = NewRegistry(settings.FenceRules())
	s.translator = NewTranslator(s.registry)
	s.diagnostics = NewDiagnosticRegistry()
	s.pool = NewClientPool(settings.Languages, s.onServerNotification)

	return &protocol.InitializeResult{
		Capabilities: protocol.ServerCapabilities{
			TextDocumentSync: protocol.TextDocumentSyncOptions{
				OpenClose: true,
				Change:    protocol.Incremental,
				Save:      &protocol.SaveOptions{IncludeText: false},
			},
			HoverProvider:          &protocol.Or_ServerCapabilities_hoverProvider{Value: true},
			DefinitionProvider:     &protocol.Or_ServerCapabilities_definitionProvider{Value: true},
			TypeDefinitionProvider: &protocol.Or_ServerCapabilities_typeDefinitionProvider{Value: true},
			ImplementationProvider: &protocol.Or_ServerCapabilities_implementationProvider{Value: true},
			DeclarationProvider:    &protocol.Or_ServerCapabilities_declarationProvider{Value: true},
			ReferencesProvider:     &protocol.Or_ServerCapabilities_referencesProvider{Value: true},
			DocumentSymbolProvider: &protocol.Or_ServerCapabilities_documentSymbolProvider{Value: true},
			RenameProvider:         &protocol.Or_ServerCapabilities_renameProvider{Value: true},
			InlayHintProvider:      &protocol.Or_ServerCapabilities_inlayHintProvider{Value: true},
			CompletionProvider: &protocol.CompletionOptions{
				TriggerCharacters: []string{"."},
				ResolveProvider:   true,
			},
			SignatureHelpProvider: &protocol.SignatureHelpOptions{
				TriggerCharacters: []string{"(", ","},
			},
		},
		ServerInfo: &protocol.ServerInfo{
			Name:    "polyls",
			Version: "0.0.1",
		},
	}, nil
}

// isHostDocument reports whether a document the editor opened should be
// bridged, per the configured globs.
func (s *Server) isHostDocument(uri protocol.DocumentURI) bool {
	path := uri.Path()
	for _, glob := range s.settings.GetDocumentGlobs() {
		if ok, err := doublestar.Match(glob, path); err == nil && ok {
			return true
		}
	}
	return false
}

func (s *Server) didOpen(ctx context.Context, params json.RawMessage) error {
	var p protocol.DidOpenTextDocumentParams
	if err := json.Unmarshal(params, &p); err != nil {
		return err
	}
	if !s.isHostDocument(p.TextDocument.URI) {
		return nil
	}
	events := s.registry.DidOpen(p.TextDocument.URI, p.TextDocument.Text, p.TextDocument.Version)
	s.applySyncEvents(ctx, events)
	s.publishRegionDiagnostics(ctx, p.TextDocument.URI)
	return nil
}

func (s *Server) didChange(ctx context.Context, params json.RawMessage) error {
	var p protocol.DidChangeTextDocumentParams
	if err := json.Unmarshal(params, &p); err != nil {
		return err
	}
	events, err := s.registry.DidChange(p.TextDocument, p.ContentChanges)
	if err != nil {
		if errors.Is(err, ErrUnknownDocument) {
			return nil
		}
		return err
	}
	s.applySyncEvents(ctx, events)
	s.publishRegionDiagnostics(ctx, p.TextDocument.URI)
	return nil
}

func (s *Server) didClose(ctx context.Context, params json.RawMessage) error {
	var p protocol.DidCloseTextDocumentParams
	if err := json.Unmarshal(params, &p); err != nil {
		return err
	}
	events := s.registry.DidClose(p.TextDocument.URI)
	s.applySyncEvents(ctx, events)
	s.diagnostics.Drop(p.TextDocument.URI)
	s.client.PublishDiagnostics(ctx, &protocol.PublishDiagnosticsParams{
		URI:         p.TextDocument.URI,
		Diagnostics: []protocol.Diagnostic{},
	})
	return nil
}

// applySyncEvents pushes synthetic document changes to the backing servers
// that are already running. Servers not yet spawned get a full didOpen
// replay on first use instead.
func (s *Server) applySyncEvents(ctx context.Context, events []SyncEvent) {
	for _, ev := range events {
		client, ok := s.pool.Running(ev.Language)
		if !ok {
			continue
		}
		s.notifySyncEvent(ctx, client, ev)
	}
}

func (s *Server) notifySyncEvent(ctx context.Context, client LanguageClient, ev SyncEvent) {
	var err error
	switch ev.Action {
	case SyncOpen:
		err = client.Notify(ctx, "textDocument/didOpen", &protocol.DidOpenTextDocumentParams{
			TextDocument: protocol.TextDocumentItem{
				URI:        ev.Alias,
				LanguageID: protocol.LanguageKind(ev.Language),
				Version:    ev.Version,
				Text:       ev.Text,
			},
		})
	case SyncChange:
		err = client.Notify(ctx, "textDocument/didChange", &protocol.DidChangeTextDocumentParams{
			TextDocument: protocol.VersionedTextDocumentIdentifier{
				TextDocumentIdentifier: protocol.TextDocumentIdentifier{URI: ev.Alias},
				Version:                ev.Version,
			},
			ContentChanges: []protocol.TextDocumentContentChangeEvent{{Text: ev.Text}},
		})
	case SyncClose:
		err = client.Notify(ctx, "textDocument/didClose", &protocol.DidCloseTextDocumentParams{
			TextDocument: protocol.TextDocumentIdentifier{URI: ev.Alias},
		})
	}
	if err != nil {
		slog.With("alias", ev.Alias, "error", err).Error("failed to sync synthetic document")
	}
}

// replayOpens sends didOpen for every existing synthetic document of the
// language to a freshly spawned backing server.
func (s *Server) replayOpens(ctx context.Context, client LanguageClient, language string) {
	for _, ev := range s.registry.OpenEvents(language) {
		s.notifySyncEvent(ctx, client, ev)
	}
}

func (s *Server) publishRegionDiagnostics(ctx context.Context, uri protocol.DocumentURI) {
	diags := MalformedRegionDiagnostics(s.registry.RegionErrors(uri))
	if diags == nil {
		diags = []protocol.Diagnostic{}
	}
	merged := s.diagnostics.Update(uri, regionDiagnosticSource, diags)
	if err := s.client.PublishDiagnostics(ctx, &protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: merged,
	}); err != nil {
		slog.With("uri", uri, "error", err).Error("failed to publish diagnostics")
	}
}

// onServerNotification handles notifications initiated by a backing server.
func (s *Server) onServerNotification(ctx context.Context, language, method string, params json.RawMessage) {
	switch method {
	case "textDocument/publishDiagnostics":
		var p protocol.PublishDiagnosticsParams
		if err := json.Unmarshal(params, &p); err != nil {
			slog.With("language", language, "error", err).Error("malformed diagnostics notification")
			return
		}
		host, _, diags, err := s.translator.TranslateDiagnostics(&p)
		if err != nil {
			slog.With("language", language, "error", err).Debug("ignoring diagnostics")
			return
		}
		merged := s.diagnostics.Update(host, language, diags)
		if err := s.client.PublishDiagnostics(ctx, &protocol.PublishDiagnosticsParams{
			URI:         host,
			Diagnostics: merged,
		}); err != nil {
			slog.With("uri", host, "error", err).Error("failed to publish diagnostics")
		}
	case "window/logMessage":
		var p protocol.LogMessageParams
		if json.Unmarshal(params, &p) == nil {
			slog.With("language", language).Debug(p.Message)
		}
	case "window/showMessage":
		var p protocol.ShowMessageParams
		if json.Unmarshal(params, &p) == nil {
			s.client.ShowMessage(ctx, &p)
		}
	default:
		slog.With("language", language, "method", method).Debug("ignoring server notification")
	}
}
