package bridge

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/kralicky/tools-lite/gopls/pkg/protocol"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// TranslationContext carries everything needed to reverse the coordinate
// mapping of one in-flight request. It is recorded by the router when the
// request is built and consumed exactly once when the response arrives, so a
// response can be translated with the offsets in effect at request time even
// if the synthetic document has been rebuilt since.
type TranslationContext struct {
	ID       string
	Host     protocol.DocumentURI
	Alias    protocol.DocumentURI
	Language string
	Method   string
}

// Translator rewrites successful response payloads from synthetic-document
// coordinates into host-document coordinates. It operates directly on the
// raw JSON so that every field it does not explicitly rewrite survives
// byte-for-byte; upstream errors never reach it (the router forwards them
// untouched).
type Translator struct {
	registry *Registry
}

func NewTranslator(registry *Registry) *Translator {
	return &Translator{registry: registry}
}

type rewriteRule func(t *Translator, tc *TranslationContext, payload []byte) []byte

var responseRules = map[string]rewriteRule{
	"textDocument/definition":     (*Translator).rewriteLocations,
	"textDocument/typeDefinition": (*Translator).rewriteLocations,
	"textDocument/implementation": (*Translator).rewriteLocations,
	"textDocument/declaration":    (*Translator).rewriteLocations,
	"textDocument/references":     (*Translator).rewriteLocations,
	"textDocument/documentSymbol": (*Translator).rewriteSymbols,
	"textDocument/rename":         (*Translator).rewriteWorkspaceEdit,
	"textDocument/prepareRename":  (*Translator).rewritePrepareRename,
	"textDocument/completion":     (*Translator).rewriteCompletion,
	"completionItem/resolve":      (*Translator).rewriteCompletionItemResponse,
	"textDocument/hover":          (*Translator).rewriteEcho,
	"textDocument/signatureHelp":  (*Translator).rewriteEcho,
	"textDocument/inlayHint":      (*Translator).rewriteEcho,
}

// Translate applies the per-method rewrite rule for the request described by
// tc. Methods without a rule pass through unchanged.
func (t *Translator) Translate(tc *TranslationContext, payload []byte) []byte {
	if len(payload) == 0 || bytes.Equal(payload, []byte("null")) {
		return payload
	}
	rule, ok := responseRules[tc.Method]
	if !ok {
		return payload
	}
	return rule(t, tc, payload)
}

// forEachItem normalizes the single-object/list shape polymorphism at one
// boundary: a list payload has fn applied per element, a single object has
// it applied directly, and the original shape is restored on exit.
func forEachItem(payload []byte, fn func(item []byte) []byte) []byte {
	root := gjson.ParseBytes(payload)
	if root.IsArray() {
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, item := range root.Array() {
			if i > 0 {
				buf.WriteByte(',')
			}
			buf.Write(fn([]byte(item.Raw)))
		}
		buf.WriteByte(']')
		return buf.Bytes()
	}
	if !root.IsObject() {
		return payload
	}
	return fn(payload)
}

// Read-only location-bearing methods: both Location and LocationLink item
// shapes occur in the wild.
func (t *Translator) rewriteLocations(_ *TranslationContext, payload []byte) []byte {
	return forEachItem(payload, func(item []byte) []byte {
		if gjson.GetBytes(item, "targetUri").Exists() {
			return t.rewriteURIField(item, "targetUri", "targetRange", "targetSelectionRange")
		}
		return t.rewriteURIField(item, "uri", "range")
	})
}

// rewriteURIField replaces an alias document identifier with its decoded
// host identity and remaps the named ranges from synthetic to host
// coordinates. A non-alias identifier is already host-identified, so the
// item is returned unchanged; this is what makes the rewrite idempotent.
func (t *Translator) rewriteURIField(item []byte, uriPath string, rangePaths ...string) []byte {
	uri := gjson.GetBytes(item, uriPath)
	if !uri.Exists() || !IsAlias(uri.String()) {
		return item
	}
	host, lang, err := DecodeAlias(protocol.DocumentURI(uri.String()))
	if err != nil {
		return item
	}
	if out, err := sjson.SetBytes(item, uriPath, string(host)); err == nil {
		item = out
	}
	for _, rangePath := range rangePaths {
		item = t.remapRange(item, rangePath, host, lang)
	}
	return item
}

// remapRange rewrites the line numbers of the range at path into host
// coordinates. Columns pass through. A range that no longer resolves (stale
// mapping after a host edit) is left untouched rather than corrupted.
func (t *Translator) remapRange(item []byte, path string, host protocol.DocumentURI, lang string) []byte {
	raw := gjson.GetBytes(item, path)
	if !raw.Exists() {
		return item
	}
	var rng protocol.Range
	if err := json.Unmarshal([]byte(raw.Raw), &rng); err != nil {
		return item
	}
	mapped, err := t.registry.ToHostRange(host, lang, rng)
	if err != nil {
		slog.With("uri", host, "language", lang, "error", err).
			Debug("dropping stale range remap")
		return item
	}
	if out, err := sjson.SetBytes(item, path+".start.line", mapped.Start.Line); err == nil {
		item = out
	}
	if out, err := sjson.SetBytes(item, path+".end.line", mapped.End.Line); err == nil {
		item = out
	}
	return item
}

// documentSymbol responses are either flat SymbolInformation items (which
// carry a location) or hierarchical DocumentSymbol items (which carry bare
// ranges in the requested document and nest children).
func (t *Translator) rewriteSymbols(tc *TranslationContext, payload []byte) []byte {
	return forEachItem(payload, func(item []byte) []byte {
		if gjson.GetBytes(item, "location").Exists() {
			return t.rewriteURIField(item, "location.uri", "location.range")
		}
		return t.rewriteDocumentSymbol(tc, item)
	})
}

func (t *Translator) rewriteDocumentSymbol(tc *TranslationContext, item []byte) []byte {
	item = t.remapRange(item, "range", tc.Host, tc.Language)
	item = t.remapRange(item, "selectionRange", tc.Host, tc.Language)
	children := gjson.GetBytes(item, "children")
	if !children.IsArray() {
		return item
	}
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, child := range children.Array() {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.Write(t.rewriteDocumentSymbol(tc, []byte(child.Raw)))
	}
	buf.WriteByte(']')
	if out, err := sjson.SetRawBytes(item, "children", buf.Bytes()); err == nil {
		item = out
	}
	return item
}

// Rename responses come in two shapes: a flat map of identifier to edit
// list, and a list of per-document change operations. Both are normalized.
// An alias that decodes to a different host document than the one rename was
// invoked from stays identified to its own host; edit lists of two aliases
// of the same host merge into one host-identified list.
func (t *Translator) rewriteWorkspaceEdit(_ *TranslationContext, payload []byte) []byte {
	if changes := gjson.GetBytes(payload, "changes"); changes.IsObject() {
		if rebuilt, ok := t.rebuildChangesMap(changes); ok {
			if out, err := sjson.SetRawBytes(payload, "changes", rebuilt); err == nil {
				payload = out
			}
		}
	}
	if docChanges := gjson.GetBytes(payload, "documentChanges"); docChanges.IsArray() {
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, change := range docChanges.Array() {
			if i > 0 {
				buf.WriteByte(',')
			}
			buf.Write(t.rewriteDocumentChange([]byte(change.Raw)))
		}
		buf.WriteByte(']')
		if out, err := sjson.SetRawBytes(payload, "documentChanges", buf.Bytes()); err == nil {
			payload = out
		}
	}
	return payload
}

func (t *Translator) rebuildChangesMap(changes gjson.Result) ([]byte, bool) {
	// key order is preserved; an alias key whose host already has an entry
	// appends to it instead of clobbering
	type entry struct {
		key   string
		edits [][]byte
	}
	var entries []*entry
	byKey := make(map[string]*entry)
	ok := true
	changes.ForEach(func(key, value gjson.Result) bool {
		outKey := key.String()
		edits := []byte(value.Raw)
		if IsAlias(outKey) {
			host, lang, err := DecodeAlias(protocol.DocumentURI(outKey))
			if err == nil {
				outKey = string(host)
				edits = t.remapEditList(edits, host, lang)
			}
		}
		e, exists := byKey[outKey]
		if !exists {
			e = &entry{key: outKey}
			byKey[outKey] = e
			entries = append(entries, e)
		}
		e.edits = append(e.edits, extractListItems(edits)...)
		return true
	})
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range entries {
		if i > 0 {
			buf.WriteByte(',')
		}
		keyJSON, err := json.Marshal(e.key)
		if err != nil {
			ok = false
			break
		}
		buf.Write(keyJSON)
		buf.WriteString(":[")
		for j, edit := range e.edits {
			if j > 0 {
				buf.WriteByte(',')
			}
			buf.Write(edit)
		}
		buf.WriteByte(']')
	}
	buf.WriteByte('}')
	return buf.Bytes(), ok
}

func extractListItems(list []byte) [][]byte {
	parsed := gjson.ParseBytes(list)
	if !parsed.IsArray() {
		return nil
	}
	var items [][]byte
	for _, item := range parsed.Array() {
		items = append(items, []byte(item.Raw))
	}
	return items
}

// remapEditList remaps the range of every edit in a TextEdit list.
func (t *Translator) remapEditList(edits []byte, host protocol.DocumentURI, lang string) []byte {
	parsed := gjson.ParseBytes(edits)
	if !parsed.IsArray() {
		return edits
	}
	for i := range parsed.Array() {
		edits = t.remapRange(edits, fmt.Sprintf("%d.range", i), host, lang)
	}
	return edits
}

// rewriteDocumentChange handles one documentChanges element: either a
// TextDocumentEdit, or a create/rename/delete file operation.
func (t *Translator) rewriteDocumentChange(change []byte) []byte {
	if td := gjson.GetBytes(change, "textDocument.uri"); td.Exists() {
		if !IsAlias(td.String()) {
			return change
		}
		host, lang, err := DecodeAlias(protocol.DocumentURI(td.String()))
		if err != nil {
			return change
		}
		if out, err := sjson.SetBytes(change, "textDocument.uri", string(host)); err == nil {
			change = out
		}
		if edits := gjson.GetBytes(change, "edits"); edits.IsArray() {
			for i := range edits.Array() {
				change = t.remapRange(change, fmt.Sprintf("edits.%d.range", i), host, lang)
			}
		}
		return change
	}
	for _, uriPath := range []string{"uri", "oldUri", "newUri"} {
		change = t.rewriteURIField(change, uriPath)
	}
	return change
}

func (t *Translator) rewritePrepareRename(tc *TranslationContext, payload []byte) []byte {
	return t.remapRange(payload, "range", tc.Host, tc.Language)
}

// Completion responses are either a CompletionList or a bare item array.
// Each item's auxiliary data payload gets the host identifier (plus the
// language id, so a later resolve request issued against the host document
// routes back to the correct synthetic document), and every edit range moves
// into host coordinates.
func (t *Translator) rewriteCompletion(tc *TranslationContext, payload []byte) []byte {
	if gjson.ParseBytes(payload).IsArray() {
		return forEachItem(payload, func(item []byte) []byte {
			return t.rewriteCompletionItem(tc, item)
		})
	}
	if items := gjson.GetBytes(payload, "items"); items.IsArray() {
		rewritten := forEachItem([]byte(items.Raw), func(item []byte) []byte {
			return t.rewriteCompletionItem(tc, item)
		})
		if out, err := sjson.SetRawBytes(payload, "items", rewritten); err == nil {
			payload = out
		}
	}
	for _, path := range []string{
		"itemDefaults.editRange",
		"itemDefaults.editRange.insert",
		"itemDefaults.editRange.replace",
	} {
		if gjson.GetBytes(payload, path+".start").Exists() {
			payload = t.remapRange(payload, path, tc.Host, tc.Language)
		}
	}
	return payload
}

func (t *Translator) rewriteCompletionItemResponse(tc *TranslationContext, payload []byte) []byte {
	return t.rewriteCompletionItem(tc, payload)
}

func (t *Translator) rewriteCompletionItem(tc *TranslationContext, item []byte) []byte {
	if data := gjson.GetBytes(item, "data.uri"); data.Exists() && IsAlias(data.String()) {
		if host, lang, err := DecodeAlias(protocol.DocumentURI(data.String())); err == nil {
			if out, err := sjson.SetBytes(item, "data.uri", string(host)); err == nil {
				item = out
			}
			if out, err := sjson.SetBytes(item, "data.languageId", lang); err == nil {
				item = out
			}
		}
	} else {
		// servers that keep no document identity in their data still need
		// the resolve round-trip routed back to the right synthetic document
		if out, err := sjson.SetBytes(item, "data.uri", string(tc.Host)); err == nil {
			item = out
		}
		if out, err := sjson.SetBytes(item, "data.languageId", tc.Language); err == nil {
			item = out
		}
	}
	for _, path := range []string{"textEdit.range", "textEdit.insert", "textEdit.replace"} {
		if gjson.GetBytes(item, path+".start").Exists() {
			item = t.remapRange(item, path, tc.Host, tc.Language)
		}
	}
	if additional := gjson.GetBytes(item, "additionalTextEdits"); additional.IsArray() {
		for i := range additional.Array() {
			item = t.remapRange(item, fmt.Sprintf("additionalTextEdits.%d.range", i), tc.Host, tc.Language)
		}
	}
	return item
}

// Hover, signature help, and inlay hints carry no positions that need
// remapping (they echo the already-known request position), but any echoed
// document identifier must never escape as a synthetic alias.
func (t *Translator) rewriteEcho(_ *TranslationContext, payload []byte) []byte {
	return forEachItem(payload, func(item []byte) []byte {
		item = t.rewriteURIField(item, "uri")
		item = t.rewriteURIField(item, "textDocument.uri")
		item = t.rewriteURIField(item, "data.uri")
		return item
	})
}
