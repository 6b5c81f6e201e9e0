package bridge

import (
	"errors"
	"strings"
	"testing"

	"github.com/kralicky/tools-lite/gopls/pkg/protocol"
)

func TestAliasRoundTrip(t *testing.T) {
	tests := []struct {
		name     string
		host     string
		language string
	}{
		{
			name:     "simple",
			host:     "file:///home/user/doc.md",
			language: "py",
		},
		{
			name:     "spaces in path",
			host:     "file:///home/user/my%20notes/design doc.md",
			language: "go",
		},
		{
			name:     "query and fragment characters",
			host:     "file:///tmp/a.md?x=1&y=2#section",
			language: "ts",
		},
		{
			name:     "language with punctuation",
			host:     "file:///tmp/b.md",
			language: "c++",
		},
		{
			name:     "non-ascii path",
			host:     "file:///home/user/заметки.md",
			language: "py",
		},
		{
			name:     "windows drive letter",
			host:     "file:///C:/Users/user/doc.md",
			language: "sh",
		},
		{
			name:     "host containing alias-like text",
			host:     "file:///tmp/polyls:/x/y.md",
			language: "py",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			alias := EncodeAlias(protocol.DocumentURI(tt.host), tt.language)
			if !IsAlias(string(alias)) {
				t.Fatalf("IsAlias(%q) = false, want true", alias)
			}
			if !strings.HasPrefix(string(alias), "polyls://") {
				t.Fatalf("alias %q does not use the polyls scheme", alias)
			}
			host, language, err := DecodeAlias(alias)
			if err != nil {
				t.Fatalf("DecodeAlias(%q): %v", alias, err)
			}
			if string(host) != tt.host {
				t.Errorf("host = %q, want %q", host, tt.host)
			}
			if language != tt.language {
				t.Errorf("language = %q, want %q", language, tt.language)
			}
		})
	}
}

func TestDecodeAliasErrors(t *testing.T) {
	tests := []struct {
		name  string
		alias string
	}{
		{"plain file uri", "file:///home/user/doc.md"},
		{"wrong scheme", "https://example.com/doc.md"},
		{"empty string", ""},
		{"scheme only", "polyls://"},
		{"no host component", "polyls://py"},
		{"empty language", "polyls:///file%3A%2F%2F%2Fdoc.md"},
		{"empty host", "polyls://py/"},
		{"invalid escape in host", "polyls://py/%zz"},
		{"invalid escape in language", "polyls://%zz/file%3A%2F%2F%2Fdoc.md"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := DecodeAlias(protocol.DocumentURI(tt.alias))
			if !errors.Is(err, ErrNotAnAlias) {
				t.Errorf("DecodeAlias(%q) = %v, want ErrNotAnAlias", tt.alias, err)
			}
		})
	}
}

func TestIsAlias(t *testing.T) {
	if IsAlias("file:///doc.md") {
		t.Error("IsAlias matched a file uri")
	}
	if !IsAlias("polyls://py/file%3A%2F%2F%2Fdoc.md") {
		t.Error("IsAlias rejected an encoded alias")
	}
}
