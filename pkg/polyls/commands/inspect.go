package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/AlecAivazis/survey/v2"
	"github.com/kralicky/polyls/pkg/bridge"
	"github.com/kralicky/tools-lite/gopls/pkg/protocol"
	"github.com/mattn/go-tty"
	"github.com/spf13/cobra"
)

// InspectCmd represents the inspect command
func BuildInspectCmd() *cobra.Command {
	var language string
	cmd := &cobra.Command{
		Use:   "inspect <file>",
		Short: "Show the embedded language regions of a host document",
		Long: `
Runs the chunk extractor on a host document and prints the resulting chunk
table. With --language, prints the synthetic document that would be fed to
that language's server instead; if multiple languages are present and the
command runs on a terminal, the language can be chosen interactively.
`[1:],
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filename, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			text, err := os.ReadFile(filename)
			if err != nil {
				return err
			}
			registry := bridge.NewRegistry(nil)
			uri := protocol.URIFromPath(filename)
			registry.DidOpen(uri, string(text), 1)

			for _, re := range registry.RegionErrors(uri) {
				cmd.PrintErrln(re.Error())
			}
			langs := registry.Languages(uri)
			if len(langs) == 0 {
				cmd.Println("no embedded language regions found")
				return nil
			}

			if language == "" && len(langs) > 1 {
				// without a usable tty (or if the prompt is dismissed),
				// fall back to the chunk table
				if selected, err := chooseLanguage(langs); err == nil {
					language = selected
				}
			}
			if language == "" {
				return printChunkTable(cmd, registry, uri, langs)
			}

			syn, err := registry.Synthetic(uri, language)
			if err != nil {
				return err
			}
			cmd.Printf("# %s (version %d)\n", syn.Alias, syn.Version)
			cmd.Print(syn.Text)
			return nil
		},
	}
	cmd.Flags().StringVarP(&language, "language", "l", "", "print the synthetic document for this language")
	return cmd
}

func printChunkTable(cmd *cobra.Command, registry *bridge.Registry, uri protocol.DocumentURI, langs []string) error {
	for _, lang := range langs {
		syn, err := registry.Synthetic(uri, lang)
		if err != nil {
			return err
		}
		for _, c := range syn.Chunks {
			cmd.Printf("%-12s host %4d-%-4d -> synthetic %4d-%-4d (%s)\n",
				lang, c.HostStart, c.HostEnd,
				c.SyntheticStart, c.SyntheticStart+(c.HostEnd-c.HostStart),
				syn.Alias)
		}
	}
	return nil
}

func chooseLanguage(langs []string) (string, error) {
	var selected string
	tty, err := tty.Open()
	if err != nil {
		return "", err
	}
	defer tty.Close()
	if err := survey.AskOne(&survey.Select{
		Message: "Multiple embedded languages found, choose one:",
		Options: langs,
		Default: langs[0],
	}, &selected, survey.WithStdio(tty.Input(), tty.Output(), tty.Output())); err != nil {
		return "", err
	}
	if selected == "" {
		return "", fmt.Errorf("no language selected")
	}
	return selected, nil
}
