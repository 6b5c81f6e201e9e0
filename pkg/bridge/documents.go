package bridge

import (
	"bytes"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/kralicky/tools-lite/gopls/pkg/protocol"
	"github.com/kralicky/tools-lite/pkg/diff"
	"github.com/kralicky/tools-lite/pkg/jsonrpc2"
)

// Document is one open host document together with the synthetic documents
// derived from it. It is owned by a Registry and mutated only through it.
type Document struct {
	uri        protocol.DocumentURI
	version    int32
	mapper     *protocol.Mapper
	hostLines  [][]byte
	synthetics map[string]*SyntheticDocument
	regionErrs []*RegionError
}

func (d *Document) languages() []string {
	langs := make([]string, 0, len(d.synthetics))
	for lang := range d.synthetics {
		langs = append(langs, lang)
	}
	slices.Sort(langs)
	return langs
}

// SyncAction describes how a synthetic document change must be propagated to
// its backing language server.
type SyncAction int

const (
	SyncOpen SyncAction = iota + 1
	SyncChange
	SyncClose
)

// SyncEvent is emitted by the registry whenever a synthetic document is
// created, rebuilt, or destroyed. The caller forwards it to the language
// server backing Language (didOpen/didChange/didClose against Alias).
type SyncEvent struct {
	Action   SyncAction
	Host     protocol.DocumentURI
	Alias    protocol.DocumentURI
	Language string
	Text     string
	Version  int32
}

// Registry owns every open host document and all synthetic documents derived
// from them. It replaces what would otherwise be ambient per-process state:
// the bridge server holds exactly one, created at initialize time, and its
// lifecycle is driven entirely by the host editor's open/change/close
// notifications.
type Registry struct {
	mu    sync.RWMutex
	rules *FenceRules
	docs  map[protocol.DocumentURI]*Document
}

func NewRegistry(rules *FenceRules) *Registry {
	if rules == nil {
		rules = DefaultFenceRules()
	}
	return &Registry{
		rules: rules,
		docs:  make(map[protocol.DocumentURI]*Document),
	}
}

func (r *Registry) DidOpen(uri protocol.DocumentURI, text string, version int32) []SyncEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc := &Document{
		uri:        uri,
		synthetics: make(map[string]*SyntheticDocument),
	}
	r.docs[uri] = doc
	return r.updateLocked(doc, []byte(text), version)
}

func (r *Registry) DidChange(uri protocol.VersionedTextDocumentIdentifier, changes []protocol.TextDocumentContentChangeEvent) ([]SyncEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[uri.URI]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDocument, uri.URI)
	}
	text, err := changedText(doc.mapper, changes)
	if err != nil {
		return nil, err
	}
	return r.updateLocked(doc, text, uri.Version), nil
}

func (r *Registry) DidClose(uri protocol.DocumentURI) []SyncEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[uri]
	if !ok {
		return nil
	}
	delete(r.docs, uri)
	var events []SyncEvent
	for _, lang := range doc.languages() {
		syn := doc.synthetics[lang]
		events = append(events, SyncEvent{
			Action:   SyncClose,
			Host:     uri,
			Alias:    syn.Alias,
			Language: lang,
		})
	}
	return events
}

// updateLocked re-extracts chunks from the new text and rebuilds every
// synthetic document whose chunk set or text changed. Languages untouched by
// the edit keep their existing synthetic document, text, and version.
func (r *Registry) updateLocked(doc *Document, text []byte, version int32) []SyncEvent {
	doc.version = version
	doc.mapper = protocol.NewMapper(doc.uri, text)
	doc.hostLines = splitLines(text)

	chunks, regionErrs := ExtractChunks(text, r.rules)
	doc.regionErrs = regionErrs
	for _, re := range regionErrs {
		slog.With("uri", doc.uri, "error", re).Warn("skipping malformed region")
	}

	byLanguage := make(map[string][]Chunk)
	for _, c := range chunks {
		byLanguage[c.Language] = append(byLanguage[c.Language], c)
	}

	var events []SyncEvent
	for lang, langChunks := range byLanguage {
		syn, existed := doc.synthetics[lang]
		if !existed {
			syn = newSyntheticDocument(doc.uri, lang)
			doc.synthetics[lang] = syn
		}
		prevText, prevChunks := syn.Text, syn.Chunks
		syn.rebuild(doc.hostLines, langChunks)
		if existed && syn.Text == prevText && slices.Equal(syn.Chunks, prevChunks) {
			continue
		}
		syn.Version++
		action := SyncChange
		if !existed {
			action = SyncOpen
		}
		events = append(events, SyncEvent{
			Action:   action,
			Host:     doc.uri,
			Alias:    syn.Alias,
			Language: lang,
			Text:     syn.Text,
			Version:  syn.Version,
		})
	}
	for _, lang := range doc.languages() {
		if _, ok := byLanguage[lang]; ok {
			continue
		}
		syn := doc.synthetics[lang]
		delete(doc.synthetics, lang)
		events = append(events, SyncEvent{
			Action:   SyncClose,
			Host:     doc.uri,
			Alias:    syn.Alias,
			Language: lang,
		})
	}
	slices.SortFunc(events, func(a, b SyncEvent) int {
		return bytes.Compare([]byte(a.Language), []byte(b.Language))
	})
	return events
}

// RouteAt resolves the language active at a host position and the synthetic
// coordinates the outgoing request must use. ErrNoSyntheticRegion means the
// position is prose (or another language's padding) and nothing should be
// dispatched.
func (r *Registry) RouteAt(uri protocol.DocumentURI, pos protocol.Position) (lang string, alias protocol.DocumentURI, synthetic protocol.Position, err error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	doc, ok := r.docs[uri]
	if !ok {
		return "", "", protocol.Position{}, fmt.Errorf("%w: %s", ErrUnknownDocument, uri)
	}
	for _, l := range doc.languages() {
		syn := doc.synthetics[l]
		if sp, serr := syn.ToSynthetic(pos); serr == nil {
			return l, syn.Alias, sp, nil
		}
	}
	return "", "", protocol.Position{}, fmt.Errorf("%w: %s line %d", ErrNoSyntheticRegion, uri, pos.Line)
}

// ToHost remaps a synthetic position of the given (host, language) pair back
// into host coordinates.
func (r *Registry) ToHost(host protocol.DocumentURI, language string, pos protocol.Position) (protocol.Position, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	syn, err := r.syntheticLocked(host, language)
	if err != nil {
		return protocol.Position{}, err
	}
	return syn.ToHost(pos)
}

// ToHostRange remaps a synthetic range back into host coordinates.
func (r *Registry) ToHostRange(host protocol.DocumentURI, language string, rng protocol.Range) (protocol.Range, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	syn, err := r.syntheticLocked(host, language)
	if err != nil {
		return protocol.Range{}, err
	}
	return syn.ToHostRange(rng)
}

func (r *Registry) syntheticLocked(host protocol.DocumentURI, language string) (*SyntheticDocument, error) {
	doc, ok := r.docs[host]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDocument, host)
	}
	syn, ok := doc.synthetics[language]
	if !ok {
		return nil, fmt.Errorf("%w: no %s chunks in %s", ErrNoSyntheticRegion, language, host)
	}
	return syn, nil
}

// Languages returns the languages with at least one chunk in the given host
// document, in sorted order.
func (r *Registry) Languages(uri protocol.DocumentURI) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	doc, ok := r.docs[uri]
	if !ok {
		return nil
	}
	return doc.languages()
}

// Synthetic returns a snapshot of the synthetic document for (host, language).
func (r *Registry) Synthetic(host protocol.DocumentURI, language string) (SyntheticDocument, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	syn, err := r.syntheticLocked(host, language)
	if err != nil {
		return SyntheticDocument{}, err
	}
	snapshot := *syn
	snapshot.Chunks = slices.Clone(syn.Chunks)
	return snapshot, nil
}

// OpenEvents returns didOpen sync events for every synthetic document of the
// given language across all open host documents. Used when a backing server
// is spawned after documents were already open.
func (r *Registry) OpenEvents(language string) []SyncEvent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var events []SyncEvent
	for _, doc := range r.docs {
		syn, ok := doc.synthetics[language]
		if !ok {
			continue
		}
		events = append(events, SyncEvent{
			Action:   SyncOpen,
			Host:     doc.uri,
			Alias:    syn.Alias,
			Language: language,
			Text:     syn.Text,
			Version:  syn.Version,
		})
	}
	return events
}

// RegionErrors returns the malformed-region reports from the most recent
// extraction of the given host document.
func (r *Registry) RegionErrors(uri protocol.DocumentURI) []*RegionError {
	r.mu.RLock()
	defer r.mu.RUnlock()
	doc, ok := r.docs[uri]
	if !ok {
		return nil
	}
	return slices.Clone(doc.regionErrs)
}

// changedText applies incremental content changes to the current document
// content. A single change with no range is a full-content replacement; we
// accept that even when incremental sync was negotiated.
func changedText(mapper *protocol.Mapper, changes []protocol.TextDocumentContentChangeEvent) ([]byte, error) {
	if len(changes) == 0 {
		return nil, fmt.Errorf("%w: no content changes provided", jsonrpc2.ErrInternal)
	}
	if len(changes) == 1 && changes[0].Range == nil && changes[0].RangeLength == 0 {
		return []byte(changes[0].Text), nil
	}
	diffs, err := contentChangeEventsToDiffEdits(mapper, changes)
	if err != nil {
		return nil, err
	}
	return diff.ApplyBytes(mapper.Content, diffs)
}

func contentChangeEventsToDiffEdits(mapper *protocol.Mapper, changes []protocol.TextDocumentContentChangeEvent) ([]diff.Edit, error) {
	var edits []protocol.TextEdit
	for _, change := range changes {
		edits = append(edits, protocol.TextEdit{
			Range:   *change.Range,
			NewText: change.Text,
		})
	}
	return protocol.EditsToDiffEdits(mapper, edits)
}

func splitLines(text []byte) [][]byte {
	lines := bytes.Split(text, []byte("\n"))
	for i, line := range lines {
		lines[i] = bytes.TrimSuffix(line, []byte("\r"))
	}
	return lines
}
