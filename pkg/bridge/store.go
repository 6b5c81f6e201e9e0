package bridge

import (
	"fmt"
	"sort"

	"github.com/kralicky/tools-lite/gopls/pkg/protocol"
)

// SyntheticDocument is the per-language document assembled from a host
// document's chunks and fed to that language's backing server. Its text is
// the ordered concatenation of the host line ranges named by its chunks, so
// each chunk's line mapping is an additive offset and columns are identical
// in both coordinate spaces.
type SyntheticDocument struct {
	Language string
	Host     protocol.DocumentURI
	Alias    protocol.DocumentURI
	Text     string
	Chunks   []Chunk
	Version  int32
}

func newSyntheticDocument(host protocol.DocumentURI, language string) *SyntheticDocument {
	return &SyntheticDocument{
		Language: language,
		Host:     host,
		Alias:    EncodeAlias(host, language),
	}
}

// rebuild recomputes the synthetic text from the current host lines and the
// given chunk list. Chunks must already be in host order with synthetic
// start offsets assigned, and must all belong to this document's language.
func (s *SyntheticDocument) rebuild(hostLines [][]byte, chunks []Chunk) {
	var text []byte
	for _, c := range chunks {
		for line := c.HostStart; line < c.HostEnd; line++ {
			if int(line) < len(hostLines) {
				text = append(text, hostLines[line]...)
			}
			text = append(text, '\n')
		}
	}
	s.Text = string(text)
	s.Chunks = chunks
}

// LineCount returns the total number of lines in the synthetic text.
func (s *SyntheticDocument) LineCount() uint32 {
	if len(s.Chunks) == 0 {
		return 0
	}
	last := s.Chunks[len(s.Chunks)-1]
	return last.SyntheticStart + last.lineCount()
}

// ToHost maps a synthetic position back to host coordinates. It fails with
// ErrPositionOutOfRange when no chunk contains the line, which signals a
// stale mapping: the caller should treat the position as unavailable and
// re-issue after the next sync.
func (s *SyntheticDocument) ToHost(pos protocol.Position) (protocol.Position, error) {
	i := sort.Search(len(s.Chunks), func(i int) bool {
		return s.Chunks[i].SyntheticStart > pos.Line
	}) - 1
	if i < 0 || !s.Chunks[i].containsSyntheticLine(pos.Line) {
		return protocol.Position{}, fmt.Errorf("%w: synthetic line %d of %s",
			ErrPositionOutOfRange, pos.Line, s.Alias)
	}
	c := s.Chunks[i]
	return protocol.Position{
		Line:      c.HostStart + (pos.Line - c.SyntheticStart),
		Character: pos.Character,
	}, nil
}

// ToSynthetic is the inverse of ToHost. It fails with ErrNoSyntheticRegion
// when the host line is not covered by any chunk of this language.
func (s *SyntheticDocument) ToSynthetic(pos protocol.Position) (protocol.Position, error) {
	i := sort.Search(len(s.Chunks), func(i int) bool {
		return s.Chunks[i].HostStart > pos.Line
	}) - 1
	if i < 0 || !s.Chunks[i].containsHostLine(pos.Line) {
		return protocol.Position{}, fmt.Errorf("%w: host line %d has no %s chunk",
			ErrNoSyntheticRegion, pos.Line, s.Language)
	}
	c := s.Chunks[i]
	return protocol.Position{
		Line:      c.SyntheticStart + (pos.Line - c.HostStart),
		Character: pos.Character,
	}, nil
}

// ToHostRange remaps both endpoints of a synthetic range. Ranges produced by
// a backing server are expected to stay within a single chunk; a range whose
// endpoints land in different chunks still maps each endpoint independently.
func (s *SyntheticDocument) ToHostRange(rng protocol.Range) (protocol.Range, error) {
	start, err := s.ToHost(rng.Start)
	if err != nil {
		return protocol.Range{}, err
	}
	end, err := s.ToHost(hostEndpoint(rng))
	if err != nil {
		return protocol.Range{}, err
	}
	end.Character = rng.End.Character
	if rng.End.Character == 0 && rng.End.Line > rng.Start.Line {
		// an end-exclusive endpoint at column 0 sits one line past the last
		// content line; keep it adjacent to the mapped end line
		end.Line++
	}
	return protocol.Range{Start: start, End: end}, nil
}

// hostEndpoint normalizes an end position for chunk lookup: a position at
// column 0 of a later line is treated as the end of the previous line so
// that ranges ending exactly at a chunk boundary still resolve.
func hostEndpoint(rng protocol.Range) protocol.Position {
	if rng.End.Character == 0 && rng.End.Line > rng.Start.Line {
		return protocol.Position{Line: rng.End.Line - 1}
	}
	return rng.End
}
