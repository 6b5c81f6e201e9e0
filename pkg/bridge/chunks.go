package bridge

import (
	"bufio"
	"bytes"
	"fmt"
	"strings"
)

// Chunk is one contiguous run of host document lines belonging to a single
// embedded language. Host lines are 0-based and end-exclusive, matching
// protocol positions. SyntheticStart is the line at which this chunk begins
// inside the language's synthetic document; the line mapping within a chunk
// is a pure additive offset, and columns pass through unchanged.
type Chunk struct {
	Language       string
	HostStart      uint32
	HostEnd        uint32
	SyntheticStart uint32
}

func (c Chunk) lineCount() uint32 {
	return c.HostEnd - c.HostStart
}

func (c Chunk) containsHostLine(line uint32) bool {
	return line >= c.HostStart && line < c.HostEnd
}

func (c Chunk) containsSyntheticLine(line uint32) bool {
	return line >= c.SyntheticStart && line < c.SyntheticStart+c.lineCount()
}

// RegionError reports a single malformed region. One bad region never aborts
// extraction of the others.
type RegionError struct {
	Line     uint32
	Language string
	Reason   string
}

func (e *RegionError) Error() string {
	if e.Language == "" {
		return fmt.Sprintf("%v at line %d: %s", ErrMalformedRegion, e.Line, e.Reason)
	}
	return fmt.Sprintf("%v at line %d (%s): %s", ErrMalformedRegion, e.Line, e.Language, e.Reason)
}

func (e *RegionError) Unwrap() error { return ErrMalformedRegion }

// FenceRules controls how embedded language regions are recognized.
type FenceRules struct {
	// Aliases maps info-string words to canonical language ids, e.g.
	// "python" -> "py". Lookups are case-insensitive.
	Aliases map[string]string
}

func DefaultFenceRules() *FenceRules {
	return &FenceRules{
		Aliases: map[string]string{
			"python":     "py",
			"golang":     "go",
			"javascript": "js",
			"typescript": "ts",
			"shell":      "sh",
			"bash":       "sh",
		},
	}
}

func (r *FenceRules) normalize(info string) string {
	lang, _, _ := strings.Cut(strings.TrimSpace(info), " ")
	lang = strings.ToLower(lang)
	if r != nil {
		if canonical, ok := r.Aliases[lang]; ok {
			return canonical
		}
	}
	return lang
}

type openFence struct {
	marker    byte
	length    int
	language  string
	startLine uint32 // first content line
}

// ExtractChunks scans the host document text for fenced code blocks (``` or
// ~~~ style) and returns the ordered chunk list plus any region errors.
// Extraction is a pure function of its input: re-running on unchanged text
// yields a value-equal chunk list. Zero-line regions are dropped.
func ExtractChunks(text []byte, rules *FenceRules) ([]Chunk, []*RegionError) {
	var (
		chunks     []Chunk
		regionErrs []*RegionError
		open       *openFence
		line       uint32
	)
	scan := bufio.NewScanner(bytes.NewReader(text))
	scan.Buffer(nil, max(len(text)+1, bufio.MaxScanTokenSize))
	for ; scan.Scan(); line++ {
		marker, length, info := parseFenceLine(scan.Bytes())
		if marker == 0 {
			continue
		}
		if open == nil {
			open = &openFence{
				marker:    marker,
				length:    length,
				language:  rules.normalize(info),
				startLine: line + 1,
			}
			continue
		}
		// a closing fence uses the same marker, at least as long, with no
		// info string; anything else is document content
		if marker != open.marker || length < open.length || info != "" {
			continue
		}
		// fences with no info string are plain code blocks, not embedded
		// language regions
		if open.language != "" && line > open.startLine {
			chunks = append(chunks, Chunk{
				Language:  open.language,
				HostStart: open.startLine,
				HostEnd:   line,
			})
		}
		open = nil
	}
	if open != nil {
		regionErrs = append(regionErrs, &RegionError{
			Line:     open.startLine - 1,
			Language: open.language,
			Reason:   "unterminated fence",
		})
	}

	chunks, overlapErrs := dropOverlapping(chunks)
	regionErrs = append(regionErrs, overlapErrs...)
	assignSyntheticStarts(chunks)
	return chunks, regionErrs
}

// parseFenceLine returns the fence marker byte, its run length, and the info
// string, or a zero marker if the line is not a fence.
func parseFenceLine(line []byte) (byte, int, string) {
	trimmed := bytes.TrimLeft(line, " ")
	if len(line)-len(trimmed) > 3 || len(trimmed) < 3 {
		return 0, 0, ""
	}
	marker := trimmed[0]
	if marker != '`' && marker != '~' {
		return 0, 0, ""
	}
	length := len(trimmed) - len(bytes.TrimLeft(trimmed, string(marker)))
	if length < 3 {
		return 0, 0, ""
	}
	return marker, length, string(bytes.TrimSpace(trimmed[length:]))
}

// The scanner cannot produce overlapping regions on its own, but rule sets
// supplied by callers are not required to uphold that, so the invariant is
// enforced here: a chunk starting before the previous one ended is reported
// and skipped.
func dropOverlapping(chunks []Chunk) ([]Chunk, []*RegionError) {
	var regionErrs []*RegionError
	out := chunks[:0]
	var lastEnd uint32
	for _, c := range chunks {
		if len(out) > 0 && c.HostStart < lastEnd {
			regionErrs = append(regionErrs, &RegionError{
				Line:     c.HostStart,
				Language: c.Language,
				Reason:   fmt.Sprintf("region overlaps previous region ending at line %d", lastEnd),
			})
			continue
		}
		out = append(out, c)
		lastEnd = c.HostEnd
	}
	return out, regionErrs
}

func assignSyntheticStarts(chunks []Chunk) {
	offsets := make(map[string]uint32)
	for i, c := range chunks {
		chunks[i].SyntheticStart = offsets[c.Language]
		offsets[c.Language] += c.lineCount()
	}
}
