package bridge

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/kralicky/tools-lite/gopls/pkg/protocol"
)

// DiagnosticRegistry accumulates published diagnostics per (host document,
// language) so that each language server's report replaces only its own
// previous diagnostics, and the editor always sees one merged list per host
// document.
type DiagnosticRegistry struct {
	mu     sync.Mutex
	byHost map[protocol.DocumentURI]map[string][]protocol.Diagnostic
}

func NewDiagnosticRegistry() *DiagnosticRegistry {
	return &DiagnosticRegistry{
		byHost: make(map[protocol.DocumentURI]map[string][]protocol.Diagnostic),
	}
}

// Update replaces the diagnostics for (host, language) and returns the
// merged list for the host document, ordered by language then position.
func (r *DiagnosticRegistry) Update(host protocol.DocumentURI, language string, diags []protocol.Diagnostic) []protocol.Diagnostic {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byHost[host]; !ok {
		r.byHost[host] = make(map[string][]protocol.Diagnostic)
	}
	r.byHost[host][language] = diags
	return r.mergedLocked(host)
}

func (r *DiagnosticRegistry) mergedLocked(host protocol.DocumentURI) []protocol.Diagnostic {
	byLang := r.byHost[host]
	langs := make([]string, 0, len(byLang))
	for lang := range byLang {
		langs = append(langs, lang)
	}
	slices.Sort(langs)
	merged := []protocol.Diagnostic{}
	for _, lang := range langs {
		merged = append(merged, byLang[lang]...)
	}
	return merged
}

// Drop forgets all diagnostics for a host document (on didClose).
func (r *DiagnosticRegistry) Drop(host protocol.DocumentURI) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byHost, host)
}

// TranslateDiagnostics rewrites a publishDiagnostics notification from a
// backing server into host coordinates. Diagnostics whose range no longer
// resolves are dropped silently; the next publish after the rebuild settles
// will restore them.
func (t *Translator) TranslateDiagnostics(params *protocol.PublishDiagnosticsParams) (protocol.DocumentURI, string, []protocol.Diagnostic, error) {
	host, lang, err := DecodeAlias(params.URI)
	if err != nil {
		return "", "", nil, fmt.Errorf("unexpected diagnostics for %q: %w", params.URI, err)
	}
	out := make([]protocol.Diagnostic, 0, len(params.Diagnostics))
	for _, diag := range params.Diagnostics {
		rng, err := t.registry.ToHostRange(host, lang, diag.Range)
		if err != nil {
			slog.With("uri", host, "language", lang, "error", err).
				Debug("dropping stale diagnostic")
			continue
		}
		diag.Range = rng
		if diag.Source == "" {
			diag.Source = lang
		}
		diag.RelatedInformation = t.translateRelated(diag.RelatedInformation)
		out = append(out, diag)
	}
	return host, lang, out, nil
}

func (t *Translator) translateRelated(related []protocol.DiagnosticRelatedInformation) []protocol.DiagnosticRelatedInformation {
	if len(related) == 0 {
		return related
	}
	out := make([]protocol.DiagnosticRelatedInformation, 0, len(related))
	for _, rel := range related {
		if !IsAlias(string(rel.Location.URI)) {
			out = append(out, rel)
			continue
		}
		host, lang, err := DecodeAlias(rel.Location.URI)
		if err != nil {
			out = append(out, rel)
			continue
		}
		rng, err := t.registry.ToHostRange(host, lang, rel.Location.Range)
		if err != nil {
			continue
		}
		rel.Location = protocol.Location{URI: host, Range: rng}
		out = append(out, rel)
	}
	return out
}

// MalformedRegionDiagnostics converts the extractor's region errors for a
// host document into editor-visible diagnostics. One bad region never hides
// diagnostics from the healthy regions' servers.
func MalformedRegionDiagnostics(regionErrs []*RegionError) []protocol.Diagnostic {
	var diags []protocol.Diagnostic
	for _, re := range regionErrs {
		msg := re.Reason
		if re.Language != "" {
			msg = fmt.Sprintf("%s (%s)", re.Reason, re.Language)
		}
		diags = append(diags, protocol.Diagnostic{
			Range: protocol.Range{
				Start: protocol.Position{Line: re.Line},
				End:   protocol.Position{Line: re.Line},
			},
			Severity: protocol.SeverityWarning,
			Source:   "polyls",
			Message:  strings.ToUpper(msg[:1]) + msg[1:],
		})
	}
	return diags
}
