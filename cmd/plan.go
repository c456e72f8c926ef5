package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fslongjin/mlworkspace/internal/output"
)

var planFormat string

var planCmd = &cobra.Command{
	Use:     "plan",
	Short:   "List the resources the template declares",
	Example: `  mlworkspace plan -c userNames=alice,bob`,
	RunE:    runPlan,
}

func init() {
	planCmd.Flags().StringVarP(&planFormat, "output", "o", "table", "Output format (table, json, yaml)")
	rootCmd.AddCommand(planCmd)
}

func runPlan(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(planFormat)
	if err != nil {
		return err
	}
	cfg, tmpl, err := buildTemplate()
	if err != nil {
		return err
	}

	rows := tmpl.Summary()
	var formatter output.Formatter
	if format == output.FormatTable {
		formatter = output.NewTableFormatterWithLabels(
			[]string{"logicalId", "type", "owner"},
			map[string]string{"logicalId": "LOGICAL ID"},
		)
	} else {
		formatter = output.NewFormatter(format)
	}
	if err := formatter.Write(cmd.OutOrStdout(), rows); err != nil {
		return err
	}
	if format == output.FormatTable {
		fmt.Fprintf(cmd.OutOrStdout(), "\n%s: %d resources, %d outputs, %d user(s)\n",
			cfg.Deployment, len(tmpl.Resources), len(tmpl.Outputs), len(cfg.UserNames))
	}
	return nil
}
