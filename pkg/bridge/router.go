package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/kralicky/tools-lite/gopls/pkg/protocol"
	"github.com/kralicky/tools-lite/pkg/jsonrpc2"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"golang.org/x/sync/errgroup"
)

// dispatchPositional handles the single-target request methods: resolve the
// language at the cursor, substitute the alias identifier and synthetic
// position into the outgoing params, record a translation context, forward,
// translate the response. A position not covered by any chunk resolves to a
// null result with no outgoing request; so does a coordinate-mapping failure
// (the common cause is an edit race, not a fault).
func (s *Server) dispatchPositional(ctx context.Context, method string, params json.RawMessage) (any, error) {
	var base struct {
		TextDocument protocol.TextDocumentIdentifier `json:"textDocument"`
		Position     *protocol.Position              `json:"position"`
	}
	if err := json.Unmarshal(params, &base); err != nil {
		return nil, fmt.Errorf("%w: %v", jsonrpc2.ErrParse, err)
	}
	if base.Position == nil {
		// range-scoped methods (inlay hints) cover every language region
		return s.dispatchFanOut(ctx, method, params, base.TextDocument.URI)
	}

	lang, alias, synthetic, err := s.registry.RouteAt(base.TextDocument.URI, *base.Position)
	if err != nil {
		if errors.Is(err, ErrNoSyntheticRegion) || errors.Is(err, ErrUnknownDocument) {
			return nil, nil
		}
		return nil, err
	}

	out, err := rewriteOutgoingParams(params, alias, &synthetic)
	if err != nil {
		return nil, err
	}
	return s.forward(ctx, method, out, &TranslationContext{
		ID:       uuid.NewString(),
		Host:     base.TextDocument.URI,
		Alias:    alias,
		Language: lang,
		Method:   method,
	})
}

// dispatchFanOut sends the request to every language with chunks in the host
// document and merges the per-language list responses in language order.
func (s *Server) dispatchFanOut(ctx context.Context, method string, params json.RawMessage, uri protocol.DocumentURI) (any, error) {
	langs := s.registry.Languages(uri)
	if len(langs) == 0 {
		return nil, nil
	}
	results := make([]json.RawMessage, len(langs))
	eg, ctx := errgroup.WithContext(ctx)
	for i, lang := range langs {
		i, lang := i, lang
		eg.Go(func() error {
			alias := EncodeAlias(uri, lang)
			out, err := rewriteOutgoingParams(params, alias, nil)
			if err != nil {
				return nil
			}
			// range-scoped requests carry host coordinates; each backing
			// server gets its own synthetic document's full extent instead
			if gjson.GetBytes(params, "range").Exists() {
				syn, serr := s.registry.Synthetic(uri, lang)
				if serr != nil {
					return nil
				}
				out, err = rewriteOutgoingRange(out, syn.LineCount())
				if err != nil {
					return nil
				}
			}
			res, err := s.forward(ctx, method, out, &TranslationContext{
				ID:       uuid.NewString(),
				Host:     uri,
				Alias:    alias,
				Language: lang,
				Method:   method,
			})
			if err != nil {
				// one language's failure does not take down the merge
				slog.With("method", method, "language", lang, "error", err).
					Debug("fan-out request failed")
				return nil
			}
			if raw, ok := res.(json.RawMessage); ok {
				results[i] = raw
			}
			return nil
		})
	}
	eg.Wait()
	return mergeListResults(results), nil
}

// dispatchCompletionResolve routes a resolve request back to the synthetic
// document recorded in the item's data payload during completion
// translation, restoring the alias before forwarding.
func (s *Server) dispatchCompletionResolve(ctx context.Context, params json.RawMessage) (any, error) {
	host := gjson.GetBytes(params, "data.uri").String()
	lang := gjson.GetBytes(params, "data.languageId").String()
	if host == "" || lang == "" || IsAlias(host) {
		// nothing of ours to restore; hand the item back unresolved
		return json.RawMessage(params), nil
	}
	alias := EncodeAlias(protocol.DocumentURI(host), lang)
	out, err := sjson.SetBytes(params, "data.uri", string(alias))
	if err != nil {
		return nil, err
	}
	return s.forward(ctx, "completionItem/resolve", out, &TranslationContext{
		ID:       uuid.NewString(),
		Host:     protocol.DocumentURI(host),
		Alias:    alias,
		Language: lang,
		Method:   "completionItem/resolve",
	})
}

// forward records the translation context, sends the request to the backing
// server for tc.Language, and translates the successful response. Upstream
// errors are returned untouched; either way the context is consumed exactly
// once.
func (s *Server) forward(ctx context.Context, method string, params []byte, tc *TranslationContext) (any, error) {
	s.contexts.Store(tc.ID, tc)
	client, created, err := s.pool.Get(ctx, tc.Language)
	if err != nil {
		s.takeContext(tc.ID)
		slog.With("language", tc.Language, "error", err).Debug("request not dispatched")
		return nil, nil
	}
	if created {
		s.replayOpens(ctx, client, tc.Language)
	}
	var result json.RawMessage
	if err := client.Call(ctx, method, json.RawMessage(params), &result); err != nil {
		s.takeContext(tc.ID)
		return nil, err
	}
	tc, ok := s.takeContext(tc.ID)
	if !ok {
		return nil, fmt.Errorf("%w: translation context consumed twice", jsonrpc2.ErrInternal)
	}
	return json.RawMessage(s.translator.Translate(tc, result)), nil
}

func (s *Server) takeContext(id string) (*TranslationContext, bool) {
	return s.contexts.LoadAndDelete(id)
}

// rewriteOutgoingParams substitutes the synthetic document identifier, and
// position when present, into the raw request params.
func rewriteOutgoingParams(params []byte, alias protocol.DocumentURI, synthetic *protocol.Position) ([]byte, error) {
	out, err := sjson.SetBytes(params, "textDocument.uri", string(alias))
	if err != nil {
		return nil, err
	}
	if synthetic != nil {
		if out, err = sjson.SetBytes(out, "position.line", synthetic.Line); err != nil {
			return nil, err
		}
		if out, err = sjson.SetBytes(out, "position.character", synthetic.Character); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// rewriteOutgoingRange replaces the range in the raw request params with one
// covering synthetic lines [0, lineCount).
func rewriteOutgoingRange(params []byte, lineCount uint32) ([]byte, error) {
	rng := protocol.Range{End: protocol.Position{Line: lineCount}}
	out, err := sjson.SetBytes(params, "range.start.line", rng.Start.Line)
	if err != nil {
		return nil, err
	}
	if out, err = sjson.SetBytes(out, "range.start.character", rng.Start.Character); err != nil {
		return nil, err
	}
	if out, err = sjson.SetBytes(out, "range.end.line", rng.End.Line); err != nil {
		return nil, err
	}
	if out, err = sjson.SetBytes(out, "range.end.character", rng.End.Character); err != nil {
		return nil, err
	}
	return out, nil
}

// mergeListResults concatenates list-shaped per-language responses into a
// single list, skipping null and non-list results.
func mergeListResults(results []json.RawMessage) json.RawMessage {
	var merged []json.RawMessage
	for _, res := range results {
		parsed := gjson.ParseBytes(res)
		if !parsed.IsArray() {
			continue
		}
		for _, item := range parsed.Array() {
			merged = append(merged, json.RawMessage(item.Raw))
		}
	}
	if merged == nil {
		return json.RawMessage("null")
	}
	out, _ := json.Marshal(merged)
	return out
}
