package bridge

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/kralicky/tools-lite/gopls/pkg/protocol"
)

// Synthetic documents are identified by alias URIs of the form
//
//	polyls://<language>/<escaped host uri>
//
// The backing language server for <language> only ever sees alias URIs, and
// treats them as ordinary opaque document identifiers. Both components are
// escaped so that the alias survives round-tripping through any protocol
// field that expects a plain string.
const aliasScheme = "polyls"

func EncodeAlias(host protocol.DocumentURI, language string) protocol.DocumentURI {
	return protocol.DocumentURI(fmt.Sprintf("%s://%s/%s",
		aliasScheme, url.PathEscape(language), url.QueryEscape(string(host))))
}

func DecodeAlias(alias protocol.DocumentURI) (host protocol.DocumentURI, language string, err error) {
	rest, ok := strings.CutPrefix(string(alias), aliasScheme+"://")
	if !ok {
		return "", "", fmt.Errorf("%w: %q", ErrNotAnAlias, alias)
	}
	langPart, hostPart, ok := strings.Cut(rest, "/")
	if !ok {
		return "", "", fmt.Errorf("%w: %q", ErrNotAnAlias, alias)
	}
	language, err = url.PathUnescape(langPart)
	if err != nil {
		return "", "", fmt.Errorf("%w: %q: %v", ErrNotAnAlias, alias, err)
	}
	hostStr, err := url.QueryUnescape(hostPart)
	if err != nil {
		return "", "", fmt.Errorf("%w: %q: %v", ErrNotAnAlias, alias, err)
	}
	if language == "" || hostStr == "" {
		return "", "", fmt.Errorf("%w: %q", ErrNotAnAlias, alias)
	}
	return protocol.DocumentURI(hostStr), language, nil
}

func IsAlias(candidate string) bool {
	return strings.HasPrefix(candidate, aliasScheme+"://")
}
