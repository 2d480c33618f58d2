package cmd

import (
	"context"
	"os"
	"os/signal"

	"github.com/oneconcern/confmon/pkg/deploy"
	"github.com/spf13/cobra"
)

const operationLineTemplate = `{{.ID}} , {{.Kind}} , {{.ServerID}} , {{short .Snapshot}} , {{.State}}{{with .Error}} , {{.}}{{end}}{{with .RestoreError}} , restore failed: {{.}}{{end}}`

type deployFunc func(ctx context.Context, serverID, snapshot, author string) (deploy.Report, error)

// runDeploy runs a deploy operation until it reaches a terminal state.
//
// An interrupt cancels the operation while it is still pending or validating.
func runDeploy(name string, run func(*app) deployFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	a := mustOpenApp(context.Background())
	defer a.Close()

	report, err := run(a)(ctx, confmonFlags.server.ID, confmonFlags.snapshot.ID, author())
	if report.ID != "" {
		if perr := printItem(report, lineTemplate("operation line", operationLineTemplate)); perr != nil {
			a.fatalln(name, perr)
			return
		}
	}
	if err != nil {
		a.fatalln(name, err)
	}
}

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Deploy a snapshot onto a server",
	Long: `Deploy a snapshot onto a server.

The snapshot is validated, pushed to the server, then read back and verified. The server
records the snapshot as deployed only once verified. When the transfer times out or the
verification fails, the previously deployed snapshot is pushed back.`,
	Example: `% confmon deploy --server eu-west-1 --snapshot 2f1c0d9e
2cXa1bq7YcRkOAn0fMxVYvZr2kQ , deploy , eu-west-1 , 2f1c0d9e6a7b , committed`,
	Run: func(cmd *cobra.Command, args []string) {
		runDeploy("deploy", func(a *app) deployFunc { return a.runtime.Deploy })
	},
}

var rollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Roll a server back to an earlier snapshot",
	Long: `Roll a server back to an earlier snapshot of its history.

A rollback is a deploy of an earlier snapshot, with the same validation, verification and restoration.`,
	Example: `% confmon rollback --server eu-west-1 --snapshot 9b3e44a1`,
	Run: func(cmd *cobra.Command, args []string) {
		runDeploy("rollback", func(a *app) deployFunc { return a.runtime.Rollback })
	},
}

func init() {
	for _, cmd := range []*cobra.Command{deployCmd, rollbackCmd} {
		requireFlags(cmd,
			addServerFlag(cmd),
			addSnapshotFlag(cmd),
		)
		addAuthorFlag(cmd)
		addTemplateFlag(cmd)
		rootCmd.AddCommand(cmd)
	}
}
