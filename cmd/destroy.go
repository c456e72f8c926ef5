package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/fslongjin/mlworkspace/internal/output"
)

var (
	destroyFormat string
	destroyDryRun bool
	forceFlag     bool
)

var destroyCmd = &cobra.Command{
	Use:   "destroy",
	Short: "Empty the user buckets and delete the workspace stack",
	Example: `  mlworkspace destroy -f workspace.yaml
  mlworkspace destroy -f workspace.yaml -c deployment=Research --force`,
	RunE: runDestroy,
}

func init() {
	destroyCmd.Flags().StringVarP(&destroyFormat, "output", "o", "table", "Output format (table, json, yaml)")
	destroyCmd.Flags().BoolVar(&destroyDryRun, "dry-run", false, "List what would be deleted without deleting")
	destroyCmd.Flags().BoolVar(&forceFlag, "force", false, "Skip confirmation")
	rootCmd.AddCommand(destroyCmd)
}

func runDestroy(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(destroyFormat)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if !forceFlag && !destroyDryRun {
		ok, err := confirm(cmd.InOrStdin(), cmd.ErrOrStderr(), fmt.Sprintf("Destroy stack %s and delete all user data?", cfg.Deployment))
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(cmd.ErrOrStderr(), "Cancelled")
			return nil
		}
	}

	st, err := openState(cfg)
	if err != nil {
		return err
	}
	d, err := newDeployer(cmd.Context(), cfg, st, destroyDryRun)
	if err != nil {
		return err
	}

	res, err := d.Destroy(cmd.Context(), cfg.Deployment)
	if err != nil {
		return err
	}
	return writeResult(cmd.OutOrStdout(), format, res)
}

var errNotInteractive = errors.New("stdin is not a terminal, pass --force to confirm")

// confirm asks a yes/no question. A non-terminal stdin cannot answer, so it
// is an error rather than an implicit no.
func confirm(in io.Reader, out io.Writer, question string) (bool, error) {
	if f, ok := in.(*os.File); ok && !term.IsTerminal(int(f.Fd())) {
		return false, errNotInteractive
	}
	fmt.Fprintf(out, "%s [y/N]: ", question)
	response, _ := bufio.NewReader(in).ReadString('\n')
	r := strings.TrimSpace(response)
	return r == "y" || r == "Y", nil
}
