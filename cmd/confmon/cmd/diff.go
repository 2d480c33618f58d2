package cmd

import (
	"context"

	"github.com/fatih/color"
	"github.com/oneconcern/confmon/pkg/core"
	"github.com/sourcegraph/go-diff/diff"
	"github.com/spf13/cobra"
)

const diffLineTemplate = `{{.Status.Letter}} {{.Path}}`

var diffCmd = &cobra.Command{
	Use:   "diff",
	Short: "Show the differences between two snapshots",
	Long: `Show the differences between two snapshots, possibly of different servers.

Each changed path is listed with its status: A (added), D (removed) or M (modified).
Line differences of text files follow in the unified format.`,
	Example: `% confmon diff --from 9b3e44a1 --to 2f1c0d9e
M config.cfg
A motd.txt`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		if !confmonFlags.diff.Color {
			color.NoColor = true
		}

		a := mustOpenApp(ctx)
		defer a.Close()

		opts := []core.DiffOption{core.WithLineDiff(confmonFlags.diff.Lines)}
		if confmonFlags.diff.MaxCells > 0 {
			opts = append(opts, core.WithMaxCells(confmonFlags.diff.MaxCells))
		}
		d, err := a.runtime.Diff(ctx, confmonFlags.snapshot.From, confmonFlags.snapshot.To, opts...)
		if err != nil {
			a.fatalln("diff", err)
			return
		}

		if confmonFlags.root.format != formatText {
			if err := printItem(d, nil); err != nil {
				a.fatalln("diff", err)
			}
			return
		}

		changed := d.Changed()
		if len(changed) == 0 {
			infoLogger.Println("no difference")
			return
		}
		if err := printItems(changed, lineTemplate("diff line", diffLineTemplate)); err != nil {
			a.fatalln("diff", err)
			return
		}
		if !confmonFlags.diff.Lines {
			return
		}

		unified := make([]*diff.FileDiff, 0, len(changed))
		for _, fd := range changed {
			unified = append(unified, unifiedDiff(fd))
		}
		outLogger.Println()
		if err := printUnified(unified); err != nil {
			a.fatalln("diff", err)
		}
	},
}

func init() {
	requireFlags(diffCmd,
		addFromFlag(diffCmd),
		addToFlag(diffCmd),
	)
	addLinesFlag(diffCmd)
	addColorFlag(diffCmd)
	addMaxCellsFlag(diffCmd)
	addTemplateFlag(diffCmd)

	rootCmd.AddCommand(diffCmd)
}
