package cmd

import (
	"context"
	"fmt"

	"github.com/oneconcern/confmon/pkg/model"
	"github.com/oneconcern/confmon/pkg/scheduler"
	"github.com/spf13/cobra"
)

const snapshotLineTemplate = `{{short .ID}} , {{.Kind}} , {{date .Timestamp}} , {{.Author}} , {{.FileCount}} file(s) , {{size .TreeSize}} , {{.Message}}`

func parseKind(kind string) (model.Kind, error) {
	switch k := model.Kind(kind); k {
	case model.KindFull, model.KindIncremental, model.KindAuto:
		return k, nil
	case "":
		return model.KindAuto, nil
	default:
		return "", fmt.Errorf("unsupported snapshot kind %q", kind)
	}
}

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Back up the configuration of a server",
	Long: `Back up the current configuration tree of a server as a new snapshot.

The first snapshot of a server is always full. With --kind auto, a full snapshot is taken
whenever the full backup interval elapsed since the last full snapshot, and an incremental
snapshot otherwise.`,
	Example: `% confmon backup --server eu-west-1 -m "before the map rotation update"
2f1c0d9e6a7b , incremental , 2024-03-01 12:00:00 , alice , 14 file(s) , 12.3kB , before the map rotation update`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		kind, err := parseKind(confmonFlags.snapshot.Kind)
		if err != nil {
			wrapFatalln("backup", err)
			return
		}

		a := mustOpenApp(ctx)
		defer a.Close()

		res, err := a.runtime.CreateBackup(ctx, scheduler.Request{
			ServerID: confmonFlags.server.ID,
			Author:   author(),
			Message:  confmonFlags.snapshot.Message,
			Kind:     kind,
		})
		if err != nil {
			a.fatalln("backup", err)
			return
		}
		if err := printItem(res.Snapshot.Summary(), lineTemplate("snapshot line", snapshotLineTemplate)); err != nil {
			a.fatalln("backup", err)
		}
	},
}

func init() {
	requireFlags(backupCmd,
		addServerFlag(backupCmd),
	)
	addMessageFlag(backupCmd)
	addAuthorFlag(backupCmd)
	addKindFlag(backupCmd)
	addTemplateFlag(backupCmd)

	rootCmd.AddCommand(backupCmd)
}
