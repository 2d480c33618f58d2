package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

const (
	formatText = "text"
	formatYAML = "yaml"
	formatJSON = "json"
)

type flagsT struct {
	root struct {
		logLevel string
		format   string
	}
	server struct {
		ID        string
		Transport string
	}
	snapshot struct {
		ID      string
		From    string
		To      string
		Author  string
		Message string
		Kind    string
	}
	core struct {
		Template string
		Limit    int
	}
	diff struct {
		Lines    bool
		Color    bool
		MaxCells int
	}
	prune struct {
		KeepLast   int
		KeepWithin time.Duration
	}
	gc struct {
		Verify bool
	}
}

var confmonFlags = flagsT{}

func addLogLevelFlag(cmd *cobra.Command) string {
	logLevel := "loglevel"
	cmd.PersistentFlags().StringVar(&confmonFlags.root.logLevel, logLevel, "", "The logging level. Levels by increasing order of verbosity: none, error, warn, info, debug")
	return logLevel
}

func addFormatFlag(cmd *cobra.Command) string {
	format := "format"
	cmd.PersistentFlags().StringVar(&confmonFlags.root.format, format, formatText, "Output format: text, yaml or json")
	return format
}

func addServerFlag(cmd *cobra.Command) string {
	server := "server"
	cmd.Flags().StringVar(&confmonFlags.server.ID, server, "", "The identifier of the server")
	return server
}

func addTransportFlag(cmd *cobra.Command) string {
	transport := "transport"
	cmd.Flags().StringVar(&confmonFlags.server.Transport, transport, "localdir", "The handle of the transport reaching the server")
	return transport
}

func addSnapshotFlag(cmd *cobra.Command) string {
	snapshot := "snapshot"
	cmd.Flags().StringVar(&confmonFlags.snapshot.ID, snapshot, "", "The snapshot identifier, or an unambiguous prefix of it")
	return snapshot
}

func addFromFlag(cmd *cobra.Command) string {
	from := "from"
	cmd.Flags().StringVar(&confmonFlags.snapshot.From, from, "", "The snapshot to compare from")
	return from
}

func addToFlag(cmd *cobra.Command) string {
	to := "to"
	cmd.Flags().StringVar(&confmonFlags.snapshot.To, to, "", "The snapshot to compare to")
	return to
}

func addAuthorFlag(cmd *cobra.Command) string {
	author := "author"
	cmd.Flags().StringVar(&confmonFlags.snapshot.Author, author, "", "The operator issuing the command. Defaults to $USER")
	return author
}

func addMessageFlag(cmd *cobra.Command) string {
	message := "message"
	cmd.Flags().StringVarP(&confmonFlags.snapshot.Message, message, "m", "", "A message describing the snapshot")
	return message
}

func addKindFlag(cmd *cobra.Command) string {
	kind := "kind"
	cmd.Flags().StringVar(&confmonFlags.snapshot.Kind, kind, "auto", "The kind of snapshot: full, incremental or auto")
	return kind
}

func addTemplateFlag(cmd *cobra.Command) string {
	tmpl := "template"
	cmd.Flags().StringVar(&confmonFlags.core.Template, tmpl, "", "A go template to render each output line")
	return tmpl
}

func addLimitFlag(cmd *cobra.Command) string {
	limit := "limit"
	cmd.Flags().IntVar(&confmonFlags.core.Limit, limit, 0, "The maximum number of items to list. Zero lists everything")
	return limit
}

func addLinesFlag(cmd *cobra.Command) string {
	lines := "lines"
	cmd.Flags().BoolVar(&confmonFlags.diff.Lines, lines, true, "Show line differences of text files")
	return lines
}

func addColorFlag(cmd *cobra.Command) string {
	c := "color"
	cmd.Flags().BoolVar(&confmonFlags.diff.Color, c, true, "Colorize line differences")
	return c
}

func addMaxCellsFlag(cmd *cobra.Command) string {
	maxCells := "max-cells"
	cmd.Flags().IntVar(&confmonFlags.diff.MaxCells, maxCells, 0, "Bound the work spent on the line difference of a file. Larger files are reported as replaced")
	return maxCells
}

func addKeepLastFlag(cmd *cobra.Command) string {
	keepLast := "keep-last"
	cmd.Flags().IntVar(&confmonFlags.prune.KeepLast, keepLast, 0, "Keep the latest snapshots. Defaults to the server configuration")
	return keepLast
}

func addKeepWithinFlag(cmd *cobra.Command) string {
	keepWithin := "keep-within"
	cmd.Flags().DurationVar(&confmonFlags.prune.KeepWithin, keepWithin, 0, "Keep the snapshots younger than this. Defaults to the server configuration")
	return keepWithin
}

func addVerifyFlag(cmd *cobra.Command) string {
	verify := "verify"
	cmd.Flags().BoolVar(&confmonFlags.gc.Verify, verify, false, "Re-read every blob and report the corrupted ones")
	return verify
}

func requireFlags(cmd *cobra.Command, flags ...string) {
	for _, flag := range flags {
		err := cmd.MarkFlagRequired(flag)
		if err != nil {
			err = cmd.MarkPersistentFlagRequired(flag)
		}
		if err != nil {
			wrapFatalln(fmt.Sprintf("error attempting to mark the required flag %q", flag), err)
			return
		}
	}
}
