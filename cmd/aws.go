package cmd

import (
	"context"
	"fmt"
	"io"
	"sort"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/fslongjin/mlworkspace/internal/config"
	"github.com/fslongjin/mlworkspace/internal/deploy"
	"github.com/fslongjin/mlworkspace/internal/output"
	"github.com/fslongjin/mlworkspace/internal/state"
)

// openState resolves the journal path: flag, then config, then default.
func openState(cfg *config.Config) (*state.Store, error) {
	path := statePath
	if path == "" {
		path = cfg.Deploy.StatePath
	}
	if path == "" {
		path = state.DefaultPath(cfg.Deployment)
	}
	return state.LoadOrCreate(path, cfg.Deployment)
}

func newDeployer(ctx context.Context, cfg *config.Config, st *state.Store, dryRun bool) (*deploy.Deployer, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Deploy.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Deploy.Region))
	}
	if cfg.Deploy.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(cfg.Deploy.Profile))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return deploy.New(
		cloudformation.NewFromConfig(awsCfg),
		s3.NewFromConfig(awsCfg),
		st,
		deploy.Options{
			Region:      awsCfg.Region,
			AssetBucket: cfg.Deploy.AssetBucket,
			WaitTimeout: cfg.Deploy.WaitTimeout,
			DryRun:      dryRun,
		},
		currentLogger(),
	), nil
}

type outputRow struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// writeResult prints a deploy or destroy result. Tables show a status line
// followed by the stack outputs.
func writeResult(w io.Writer, format output.Format, res *deploy.Result) error {
	if format != output.FormatTable {
		return output.NewFormatter(format).Write(w, res)
	}
	fmt.Fprintf(w, "Stack %s: %s (run %s)\n", res.Stack, res.Action, res.RunID)
	if res.TemplateURL != "" {
		fmt.Fprintf(w, "Template: %s\n", res.TemplateURL)
	}
	if len(res.Outputs) == 0 {
		return nil
	}
	keys := make([]string, 0, len(res.Outputs))
	for k := range res.Outputs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	rows := make([]outputRow, 0, len(keys))
	for _, k := range keys {
		rows = append(rows, outputRow{Key: k, Value: res.Outputs[k]})
	}
	fmt.Fprintln(w)
	return output.NewTableFormatterWithLabels(nil, map[string]string{"key": "OUTPUT"}).Write(w, rows)
}
