package bridge

import "errors"

var (
	// ErrMalformedRegion indicates a fenced region with bad boundaries, e.g. an
	// unterminated fence or one that overlaps a previously extracted region.
	// It affects only the region that produced it.
	ErrMalformedRegion = errors.New("malformed region")

	// ErrPositionOutOfRange indicates a synthetic position not covered by any
	// chunk. The usual cause is a lookup against a mapping that has since been
	// rebuilt; callers should treat the result as unavailable, not fatal.
	ErrPositionOutOfRange = errors.New("position out of range")

	// ErrNoSyntheticRegion indicates a host position not covered by any chunk
	// of the requested language (e.g. the cursor sits in prose).
	ErrNoSyntheticRegion = errors.New("no synthetic region")

	// ErrNotAnAlias indicates a string that was not produced by EncodeAlias.
	ErrNotAnAlias = errors.New("not a synthetic document alias")

	// ErrUnknownDocument indicates a host document the registry has no entry
	// for (never opened, or already closed).
	ErrUnknownDocument = errors.New("unknown document")
)
