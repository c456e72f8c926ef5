package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/fslongjin/mlworkspace/internal/cfn"
	"github.com/fslongjin/mlworkspace/internal/config"
	"github.com/fslongjin/mlworkspace/internal/logx"
	"github.com/fslongjin/mlworkspace/internal/workspace"
)

const serviceName = "mlworkspace"

var (
	configFile  string
	contextArgs []string
	statePath   string
	verbose     bool
	logFile     string

	logger     *slog.Logger
	closeLogFn func() error
)

var rootCmd = &cobra.Command{
	Use:   "mlworkspace",
	Short: "Isolated SageMaker workspaces as a CloudFormation stack",
	Long: `mlworkspace synthesizes one CloudFormation template for an isolated
machine learning workspace: a private VPC without internet egress, a
SageMaker Studio domain, a shared package mirror, and one private
environment per user.`,
	SilenceUsage:       true,
	PersistentPreRunE:  setupLogging,
	PersistentPostRunE: closeLogging,
}

func Execute(version, commit, date string) error {
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built at: %s)", version, commit, date)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "f", "", "Workspace config file (YAML)")
	rootCmd.PersistentFlags().StringArrayVarP(&contextArgs, "context", "c", nil, "Override a config key (key=value, repeatable)")
	rootCmd.PersistentFlags().StringVar(&statePath, "state", "", "State file path (default: ~/.mlworkspace/<deployment>-state.json)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Detailed execution log file path (optional)")
}

func setupLogging(cmd *cobra.Command, args []string) error {
	l, closer, err := logx.Init(serviceName, logx.Overrides{Verbose: verbose, LogFile: logFile})
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	logger, closeLogFn = l, closer
	return nil
}

func closeLogging(cmd *cobra.Command, args []string) error {
	if closeLogFn == nil {
		return nil
	}
	err := closeLogFn()
	closeLogFn = nil
	return err
}

func loadConfig() (*config.Config, error) {
	overrides, err := config.ParseContext(contextArgs)
	if err != nil {
		return nil, err
	}
	return config.Load(viper.New(), config.LoadOptions{Path: configFile, Context: overrides})
}

// buildTemplate loads the configuration and synthesizes the workspace.
func buildTemplate() (*config.Config, *cfn.Template, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	tmpl, err := workspace.New(cfg, currentLogger()).Build()
	if err != nil {
		return nil, nil, err
	}
	return cfg, tmpl, nil
}

func currentLogger() *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}
