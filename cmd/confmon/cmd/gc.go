package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Remove the blobs no snapshot references",
	Long: `Remove the blobs no snapshot references anymore, typically after a prune.

With --verify, every remaining blob is read back and checked against its hash.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		a := mustOpenApp(ctx)
		defer a.Close()

		result, err := a.runtime.GC(ctx)
		if err != nil {
			a.fatalln("garbage collection", err)
			return
		}
		outLogger.Printf("%d blob(s) scanned, %d removed, %d in use", result.Scanned, len(result.Swept), result.InUse)

		if !confmonFlags.gc.Verify {
			return
		}
		corrupted, err := a.runtime.Verify(ctx)
		if err != nil {
			a.fatalln("verify blobs", err)
			return
		}
		for _, key := range corrupted {
			outLogger.Printf("corrupted %s", key)
		}
		if len(corrupted) > 0 {
			a.fatalln("verify blobs", fmt.Errorf("%d corrupted blob(s)", len(corrupted)))
		}
	},
}

func init() {
	addVerifyFlag(gcCmd)
	rootCmd.AddCommand(gcCmd)
}
