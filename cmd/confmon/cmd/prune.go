package cmd

import (
	"context"

	"github.com/oneconcern/confmon/pkg/core"
	"github.com/spf13/cobra"
)

// retentionFor merges the retention flags with the configuration of a server
func retentionFor(serverID string) core.RetentionPolicy {
	server, _ := config.server(serverID)
	if confmonFlags.prune.KeepLast > 0 {
		server.KeepLast = confmonFlags.prune.KeepLast
	}
	if confmonFlags.prune.KeepWithin > 0 {
		server.KeepWithin = confmonFlags.prune.KeepWithin
	}
	return server.retention()
}

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove old snapshots of a server",
	Long: `Remove the snapshots of a server which the retention policy does not keep.

The head and the deployed snapshot are always kept, as well as every snapshot needed to
rebuild a kept one. Without any retention setting, nothing is removed.

Removed snapshots release their blobs on the next "confmon gc".`,
	Example: `% confmon prune --server eu-west-1 --keep-last 10`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		a := mustOpenApp(ctx)
		defer a.Close()

		result, err := a.runtime.Prune(ctx, confmonFlags.server.ID, retentionFor(confmonFlags.server.ID))
		if err != nil {
			a.fatalln("prune", err)
			return
		}
		for _, id := range result.Removed {
			outLogger.Printf("removed %s", id)
		}
		for _, id := range result.Protected {
			outLogger.Printf("kept %s, required by a retained snapshot", id)
		}
		infoLogger.Printf("%d snapshot(s) removed", len(result.Removed))
	},
}

func init() {
	requireFlags(pruneCmd,
		addServerFlag(pruneCmd),
	)
	addKeepLastFlag(pruneCmd)
	addKeepWithinFlag(pruneCmd)

	rootCmd.AddCommand(pruneCmd)
}
