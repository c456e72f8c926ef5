package cmd

import (
	"github.com/spf13/cobra"

	"github.com/fslongjin/mlworkspace/internal/output"
)

var (
	deployFormat string
	deployDryRun bool
)

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Create or update the workspace stack",
	Long: `Synthesize the workspace and submit it to CloudFormation, creating the
stack or updating it in place. An interrupted run is resumed with the same
run ID the next time deploy is invoked.`,
	Example: `  mlworkspace deploy -f workspace.yaml
  mlworkspace deploy -c userNames=alice,bob -c deploy.region=eu-west-1`,
	RunE: runDeploy,
}

func init() {
	deployCmd.Flags().StringVarP(&deployFormat, "output", "o", "table", "Output format (table, json, yaml)")
	deployCmd.Flags().BoolVar(&deployDryRun, "dry-run", false, "Synthesize and validate without calling AWS")
	rootCmd.AddCommand(deployCmd)
}

func runDeploy(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(deployFormat)
	if err != nil {
		return err
	}
	cfg, tmpl, err := buildTemplate()
	if err != nil {
		return err
	}
	st, err := openState(cfg)
	if err != nil {
		return err
	}
	d, err := newDeployer(cmd.Context(), cfg, st, deployDryRun)
	if err != nil {
		return err
	}

	res, err := d.Deploy(cmd.Context(), cfg.Deployment, tmpl)
	if err != nil {
		return err
	}
	return writeResult(cmd.OutOrStdout(), format, res)
}
