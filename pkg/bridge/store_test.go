package bridge

import (
	"errors"
	"testing"

	"github.com/kralicky/tools-lite/gopls/pkg/protocol"
)

// Two disjoint chunks of the same language: host lines 2-4 map to synthetic
// lines 0-2, host lines 8-9 map to synthetic lines 3-4.
func twoChunkDoc() *SyntheticDocument {
	host := protocol.DocumentURI("file:///notes.md")
	syn := newSyntheticDocument(host, "py")
	syn.Chunks = []Chunk{
		{Language: "py", HostStart: 2, HostEnd: 5, SyntheticStart: 0},
		{Language: "py", HostStart: 8, HostEnd: 10, SyntheticStart: 3},
	}
	return syn
}

func TestToHost(t *testing.T) {
	syn := twoChunkDoc()
	tests := []struct {
		name      string
		synthetic protocol.Position
		want      protocol.Position
		wantErr   error
	}{
		{
			name:      "first line of first chunk",
			synthetic: protocol.Position{Line: 0, Character: 0},
			want:      protocol.Position{Line: 2, Character: 0},
		},
		{
			name:      "last line of first chunk",
			synthetic: protocol.Position{Line: 2, Character: 7},
			want:      protocol.Position{Line: 4, Character: 7},
		},
		{
			name:      "first line of second chunk",
			synthetic: protocol.Position{Line: 3, Character: 1},
			want:      protocol.Position{Line: 8, Character: 1},
		},
		{
			name:      "column passes through",
			synthetic: protocol.Position{Line: 4, Character: 42},
			want:      protocol.Position{Line: 9, Character: 42},
		},
		{
			name:      "line past all chunks",
			synthetic: protocol.Position{Line: 5, Character: 0},
			wantErr:   ErrPositionOutOfRange,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := syn.ToHost(tt.synthetic)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("ToHost(%v) error = %v, want %v", tt.synthetic, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ToHost(%v): %v", tt.synthetic, err)
			}
			if got != tt.want {
				t.Errorf("ToHost(%v) = %v, want %v", tt.synthetic, got, tt.want)
			}
		})
	}
}

func TestToSynthetic(t *testing.T) {
	syn := twoChunkDoc()
	tests := []struct {
		name    string
		host    protocol.Position
		want    protocol.Position
		wantErr error
	}{
		{
			name: "inside first chunk",
			host: protocol.Position{Line: 3, Character: 5},
			want: protocol.Position{Line: 1, Character: 5},
		},
		{
			name: "inside second chunk",
			host: protocol.Position{Line: 9, Character: 0},
			want: protocol.Position{Line: 4, Character: 0},
		},
		{
			name:    "prose before all chunks",
			host:    protocol.Position{Line: 0, Character: 0},
			wantErr: ErrNoSyntheticRegion,
		},
		{
			name:    "prose between chunks",
			host:    protocol.Position{Line: 6, Character: 2},
			wantErr: ErrNoSyntheticRegion,
		},
		{
			name:    "fence line itself",
			host:    protocol.Position{Line: 5, Character: 0},
			wantErr: ErrNoSyntheticRegion,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := syn.ToSynthetic(tt.host)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("ToSynthetic(%v) error = %v, want %v", tt.host, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ToSynthetic(%v): %v", tt.host, err)
			}
			if got != tt.want {
				t.Errorf("ToSynthetic(%v) = %v, want %v", tt.host, got, tt.want)
			}
		})
	}
}

// Every host position inside a chunk must survive a full round trip through
// synthetic coordinates and back, for any column.
func TestPositionRoundTrip(t *testing.T) {
	syn := twoChunkDoc()
	for _, c := range syn.Chunks {
		for line := c.HostStart; line < c.HostEnd; line++ {
			for _, col := range []uint32{0, 1, 80} {
				pos := protocol.Position{Line: line, Character: col}
				sp, err := syn.ToSynthetic(pos)
				if err != nil {
					t.Fatalf("ToSynthetic(%v): %v", pos, err)
				}
				back, err := syn.ToHost(sp)
				if err != nil {
					t.Fatalf("ToHost(%v): %v", sp, err)
				}
				if back != pos {
					t.Errorf("round trip %v -> %v -> %v", pos, sp, back)
				}
			}
		}
	}
}

func TestToHostRange(t *testing.T) {
	syn := twoChunkDoc()
	tests := []struct {
		name string
		rng  protocol.Range
		want protocol.Range
	}{
		{
			name: "within one line",
			rng: protocol.Range{
				Start: protocol.Position{Line: 0, Character: 4},
				End:   protocol.Position{Line: 0, Character: 9},
			},
			want: protocol.Range{
				Start: protocol.Position{Line: 2, Character: 4},
				End:   protocol.Position{Line: 2, Character: 9},
			},
		},
		{
			name: "multi-line within one chunk",
			rng: protocol.Range{
				Start: protocol.Position{Line: 0, Character: 0},
				End:   protocol.Position{Line: 1, Character: 3},
			},
			want: protocol.Range{
				Start: protocol.Position{Line: 2, Character: 0},
				End:   protocol.Position{Line: 3, Character: 3},
			},
		},
		{
			name: "end-exclusive endpoint at column zero",
			rng: protocol.Range{
				Start: protocol.Position{Line: 0, Character: 0},
				End:   protocol.Position{Line: 3, Character: 0},
			},
			want: protocol.Range{
				Start: protocol.Position{Line: 2, Character: 0},
				End:   protocol.Position{Line: 5, Character: 0},
			},
		},
		{
			name: "endpoints in different chunks",
			rng: protocol.Range{
				Start: protocol.Position{Line: 2, Character: 0},
				End:   protocol.Position{Line: 3, Character: 2},
			},
			want: protocol.Range{
				Start: protocol.Position{Line: 4, Character: 0},
				End:   protocol.Position{Line: 8, Character: 2},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := syn.ToHostRange(tt.rng)
			if err != nil {
				t.Fatalf("ToHostRange(%v): %v", tt.rng, err)
			}
			if got != tt.want {
				t.Errorf("ToHostRange(%v) = %v, want %v", tt.rng, got, tt.want)
			}
		})
	}

	t.Run("stale range", func(t *testing.T) {
		_, err := syn.ToHostRange(protocol.Range{
			Start: protocol.Position{Line: 40, Character: 0},
			End:   protocol.Position{Line: 40, Character: 3},
		})
		if !errors.Is(err, ErrPositionOutOfRange) {
			t.Errorf("error = %v, want ErrPositionOutOfRange", err)
		}
	})
}

func TestRebuildText(t *testing.T) {
	text := doc(
		"# Doc",
		"```py",
		"def f():",
		"    return 1",
		"```",
		"prose",
		"```py",
		"f()",
		"```",
	)
	chunks, regionErrs := ExtractChunks(text, DefaultFenceRules())
	if len(regionErrs) != 0 {
		t.Fatalf("unexpected region errors: %v", regionErrs)
	}
	syn := newSyntheticDocument("file:///doc.md", "py")
	syn.rebuild(splitLines(text), chunks)
	want := "def f():\n    return 1\nf()\n"
	if syn.Text != want {
		t.Errorf("synthetic text = %q, want %q", syn.Text, want)
	}
}
