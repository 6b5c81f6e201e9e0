package bridge

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/kralicky/tools-lite/gopls/pkg/protocol"
	"github.com/stretchr/testify/require"
)

const testHost = protocol.DocumentURI("file:///notes.md")

func openTestDoc(t *testing.T, lines ...string) (*Registry, []SyncEvent) {
	t.Helper()
	r := NewRegistry(nil)
	events := r.DidOpen(testHost, string(doc(lines...)), 1)
	return r, events
}

func TestDidOpenEvents(t *testing.T) {
	_, events := openTestDoc(t,
		"# Doc",
		"```py",
		"a = 1",
		"```",
		"```go",
		"x := 1",
		"```",
	)
	want := []SyncEvent{
		{
			Action:   SyncOpen,
			Host:     testHost,
			Alias:    EncodeAlias(testHost, "go"),
			Language: "go",
			Text:     "x := 1\n",
			Version:  1,
		},
		{
			Action:   SyncOpen,
			Host:     testHost,
			Alias:    EncodeAlias(testHost, "py"),
			Language: "py",
			Text:     "a = 1\n",
			Version:  1,
		},
	}
	if diff := cmp.Diff(want, events); diff != "" {
		t.Errorf("unexpected open events (-want +got):\n%s", diff)
	}
}

func TestDidChangeShiftsOffsets(t *testing.T) {
	r, _ := openTestDoc(t,
		"# Doc",
		"some prose",
		"more prose",
		"```py",
		"value = 1",
		"```",
	)

	lang, _, synthetic, err := r.RouteAt(testHost, protocol.Position{Line: 4, Character: 0})
	require.NoError(t, err)
	require.Equal(t, "py", lang)
	require.Equal(t, protocol.Position{Line: 0, Character: 0}, synthetic)

	// delete one prose line; the region shifts up but its content is unchanged
	events, err := r.DidChange(
		protocol.VersionedTextDocumentIdentifier{
			TextDocumentIdentifier: protocol.TextDocumentIdentifier{URI: testHost},
			Version:                2,
		},
		[]protocol.TextDocumentContentChangeEvent{
			{Text: string(doc(
				"# Doc",
				"some prose",
				"```py",
				"value = 1",
				"```",
			))},
		},
	)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, SyncChange, events[0].Action)
	require.Equal(t, "py", events[0].Language)
	require.Equal(t, "value = 1\n", events[0].Text)
	require.EqualValues(t, 2, events[0].Version)

	lang, _, synthetic, err = r.RouteAt(testHost, protocol.Position{Line: 3, Character: 0})
	require.NoError(t, err)
	require.Equal(t, "py", lang)
	require.Equal(t, protocol.Position{Line: 0, Character: 0}, synthetic)

	_, _, _, err = r.RouteAt(testHost, protocol.Position{Line: 4, Character: 0})
	require.ErrorIs(t, err, ErrNoSyntheticRegion)
}

func TestDidChangeLanguageIndependence(t *testing.T) {
	r, _ := openTestDoc(t,
		"```go",
		"x := 1",
		"```",
		"```py",
		"a = 1",
		"```",
	)

	// edit only inside the py region; the go synthetic document is untouched
	events, err := r.DidChange(
		protocol.VersionedTextDocumentIdentifier{
			TextDocumentIdentifier: protocol.TextDocumentIdentifier{URI: testHost},
			Version:                2,
		},
		[]protocol.TextDocumentContentChangeEvent{
			{Text: string(doc(
				"```go",
				"x := 1",
				"```",
				"```py",
				"a = 2",
				"```",
			))},
		},
	)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "py", events[0].Language)

	goSyn, err := r.Synthetic(testHost, "go")
	require.NoError(t, err)
	require.EqualValues(t, 1, goSyn.Version)
}

func TestDidChangeIncremental(t *testing.T) {
	r, _ := openTestDoc(t,
		"prose",
		"```py",
		"x = 1",
		"```",
	)

	events, err := r.DidChange(
		protocol.VersionedTextDocumentIdentifier{
			TextDocumentIdentifier: protocol.TextDocumentIdentifier{URI: testHost},
			Version:                2,
		},
		[]protocol.TextDocumentContentChangeEvent{
			{
				Range: &protocol.Range{
					Start: protocol.Position{Line: 2, Character: 4},
					End:   protocol.Position{Line: 2, Character: 5},
				},
				Text: "2",
			},
		},
	)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "x = 2\n", events[0].Text)
}

func TestDidChangeRemovesLanguage(t *testing.T) {
	r, _ := openTestDoc(t,
		"```go",
		"x := 1",
		"```",
		"```py",
		"a = 1",
		"```",
	)

	events, err := r.DidChange(
		protocol.VersionedTextDocumentIdentifier{
			TextDocumentIdentifier: protocol.TextDocumentIdentifier{URI: testHost},
			Version:                2,
		},
		[]protocol.TextDocumentContentChangeEvent{
			{Text: string(doc(
				"```go",
				"x := 1",
				"```",
			))},
		},
	)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, SyncClose, events[0].Action)
	require.Equal(t, "py", events[0].Language)
	require.Equal(t, []string{"go"}, r.Languages(testHost))
}

func TestDidChangeUnknownDocument(t *testing.T) {
	r := NewRegistry(nil)
	_, err := r.DidChange(
		protocol.VersionedTextDocumentIdentifier{
			TextDocumentIdentifier: protocol.TextDocumentIdentifier{URI: testHost},
			Version:                1,
		},
		[]protocol.TextDocumentContentChangeEvent{{Text: "x"}},
	)
	require.ErrorIs(t, err, ErrUnknownDocument)
}

func TestDidClose(t *testing.T) {
	r, _ := openTestDoc(t,
		"```py",
		"a = 1",
		"```",
	)
	events := r.DidClose(testHost)
	require.Len(t, events, 1)
	require.Equal(t, SyncClose, events[0].Action)
	require.Equal(t, EncodeAlias(testHost, "py"), events[0].Alias)

	_, _, _, err := r.RouteAt(testHost, protocol.Position{Line: 1, Character: 0})
	require.ErrorIs(t, err, ErrUnknownDocument)
	require.Nil(t, r.DidClose(testHost))
}

func TestRouteAt(t *testing.T) {
	r, _ := openTestDoc(t,
		"# Doc",
		"```py",
		"a = 1",
		"```",
		"prose",
		"```go",
		"x := 1",
		"y := 2",
		"```",
	)
	tests := []struct {
		name     string
		pos      protocol.Position
		wantLang string
		wantPos  protocol.Position
		wantErr  error
	}{
		{
			name:     "python region",
			pos:      protocol.Position{Line: 2, Character: 0},
			wantLang: "py",
			wantPos:  protocol.Position{Line: 0, Character: 0},
		},
		{
			name:     "go region second line",
			pos:      protocol.Position{Line: 7, Character: 3},
			wantLang: "go",
			wantPos:  protocol.Position{Line: 1, Character: 3},
		},
		{
			name:    "prose",
			pos:     protocol.Position{Line: 4, Character: 2},
			wantErr: ErrNoSyntheticRegion,
		},
		{
			name:    "opening fence line",
			pos:     protocol.Position{Line: 1, Character: 0},
			wantErr: ErrNoSyntheticRegion,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lang, alias, pos, err := r.RouteAt(testHost, tt.pos)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("RouteAt(%v) error = %v, want %v", tt.pos, err, tt.wantErr)
				}
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.wantLang, lang)
			require.Equal(t, EncodeAlias(testHost, tt.wantLang), alias)
			require.Equal(t, tt.wantPos, pos)
		})
	}
}

func TestOpenEvents(t *testing.T) {
	r := NewRegistry(nil)
	other := protocol.DocumentURI("file:///other.md")
	r.DidOpen(testHost, string(doc("```py", "a = 1", "```")), 1)
	r.DidOpen(other, string(doc("```go", "x := 1", "```")), 1)

	events := r.OpenEvents("py")
	require.Len(t, events, 1)
	require.Equal(t, SyncOpen, events[0].Action)
	require.Equal(t, testHost, events[0].Host)
	require.Equal(t, "a = 1\n", events[0].Text)
	require.Empty(t, r.OpenEvents("rust"))
}

func TestRegionErrorsTracked(t *testing.T) {
	r, _ := openTestDoc(t,
		"```py",
		"a = 1",
	)
	regionErrs := r.RegionErrors(testHost)
	require.Len(t, regionErrs, 1)
	require.Equal(t, "py", regionErrs[0].Language)
	require.Empty(t, r.Languages(testHost))
}
