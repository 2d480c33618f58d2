package cmd

import (
	"context"
	"os"

	"github.com/oneconcern/confmon/pkg/model"
	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List the snapshots of a server",
	Long:  `List the snapshots of a server, newest first.`,
	Example: `% confmon history --server eu-west-1 --limit 2
2f1c0d9e6a7b , incremental , 2024-03-01 12:00:00 , alice , 14 file(s) , 12.3kB , before the map rotation update
9b3e44a1c0f2 , full , 2024-02-29 03:00:00 , scheduler , 14 file(s) , 12.1kB , scheduled backup`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		a := mustOpenApp(ctx)
		defer a.Close()

		history, err := a.runtime.ListHistory(ctx, confmonFlags.server.ID)
		if err != nil {
			a.fatalln("list history", err)
			return
		}
		if limit := confmonFlags.core.Limit; limit > 0 && len(history) > limit {
			history = history[:limit]
		}

		summaries := make([]model.Snapshot, 0, len(history))
		for _, snapshot := range history {
			summaries = append(summaries, snapshot.Summary())
		}
		if err := printItems(summaries, lineTemplate("snapshot line", snapshotLineTemplate)); err != nil {
			a.fatalln("list history", err)
		}
	},
}

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Show a snapshot and its file entries",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		a := mustOpenApp(ctx)
		defer a.Close()

		snapshot, err := a.runtime.GetSnapshot(ctx, confmonFlags.snapshot.ID)
		if err != nil {
			a.fatalln("get snapshot", err)
			return
		}
		if confmonFlags.root.format != formatText {
			if err := printItem(snapshot, nil); err != nil {
				a.fatalln("get snapshot", err)
			}
			return
		}

		if err := printItem(snapshot.Summary(), lineTemplate("snapshot line", snapshotLineTemplate)); err != nil {
			a.fatalln("get snapshot", err)
			return
		}
		tree, err := a.runtime.Materialize(ctx, snapshot.ID)
		if err != nil {
			a.fatalln("materialize snapshot", err)
			return
		}
		for _, file := range tree {
			if file.Mode.IsSymlink() {
				outLogger.Printf("  %v %s -> %s", os.FileMode(file.Mode), file.Path, file.LinkTarget)
				continue
			}
			outLogger.Printf("  %v %s (%d bytes)", os.FileMode(file.Mode), file.Path, len(file.Payload))
		}
	},
}

func init() {
	requireFlags(historyCmd,
		addServerFlag(historyCmd),
	)
	addLimitFlag(historyCmd)
	addTemplateFlag(historyCmd)

	requireFlags(showCmd,
		addSnapshotFlag(showCmd),
	)

	rootCmd.AddCommand(historyCmd, showCmd)
}
