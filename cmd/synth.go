package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fslongjin/mlworkspace/internal/cfn"
)

var (
	synthFormat string
	synthOut    string
)

var synthCmd = &cobra.Command{
	Use:   "synth",
	Short: "Render the CloudFormation template",
	Example: `  # Print the template for two users
  mlworkspace synth -c userNames=alice,bob

  # Write YAML to a file
  mlworkspace synth -f workspace.yaml --format yaml --out template.yaml`,
	RunE: runSynth,
}

func init() {
	synthCmd.Flags().StringVar(&synthFormat, "format", "json", "Template format (json, yaml)")
	synthCmd.Flags().StringVar(&synthOut, "out", "", "Output file (default: stdout)")
	rootCmd.AddCommand(synthCmd)
}

func runSynth(cmd *cobra.Command, args []string) error {
	_, tmpl, err := buildTemplate()
	if err != nil {
		return err
	}
	body, err := renderTemplate(tmpl, synthFormat)
	if err != nil {
		return err
	}

	if synthOut == "" {
		_, err = cmd.OutOrStdout().Write(body)
		return err
	}
	if err := os.WriteFile(synthOut, body, 0o644); err != nil {
		return fmt.Errorf("write template: %w", err)
	}
	currentLogger().Info("template written", "path", synthOut, "resources", len(tmpl.Resources), "bytes", len(body))
	return nil
}

func renderTemplate(tmpl *cfn.Template, format string) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "json":
		return tmpl.JSON()
	case "yaml", "yml":
		return tmpl.YAML()
	default:
		return nil, fmt.Errorf("unknown template format %q (want json or yaml)", format)
	}
}
