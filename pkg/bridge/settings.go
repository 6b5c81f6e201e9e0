package bridge

import "github.com/mitchellh/mapstructure"

type Settings struct {
	LogLevel string `mapstructure:"logLevel" json:"logLevel"`
	// DocumentGlobs selects which files are treated as polyglot host
	// documents. Defaults to markdown files.
	DocumentGlobs []string `mapstructure:"documentGlobs" json:"documentGlobs"`
	// Languages maps a canonical language id to the server that backs it.
	Languages map[string]LanguageServerSettings `mapstructure:"languages" json:"languages"`
	// Aliases maps fence info-string words to canonical language ids, merged
	// over the built-in defaults.
	Aliases map[string]string `mapstructure:"aliases" json:"aliases"`
}

type LanguageServerSettings struct {
	Command string   `mapstructure:"command" json:"command"`
	Args    []string `mapstructure:"args" json:"args"`
}

func (s *Settings) GetDocumentGlobs() []string {
	if len(s.DocumentGlobs) == 0 {
		return []string{"**/*.md", "**/*.markdown"}
	}
	return s.DocumentGlobs
}

func (s *Settings) FenceRules() *FenceRules {
	rules := DefaultFenceRules()
	for from, to := range s.Aliases {
		rules.Aliases[from] = to
	}
	return rules
}

// DecodeSettings decodes LSP initialization options into Settings. A nil or
// malformed options payload yields defaults; unknown keys are ignored.
func DecodeSettings(initializationOptions any) (Settings, error) {
	var settings Settings
	if initializationOptions == nil {
		return settings, nil
	}
	err := mapstructure.Decode(initializationOptions, &settings)
	return settings, err
}
