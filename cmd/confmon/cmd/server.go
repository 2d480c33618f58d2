package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

const serverLineTemplate = `{{.ServerID}} , {{.Snapshots}} snapshot(s) , head {{short .Head}} , deployed {{short .Deployed}} , {{size .TreeSize}} , last backup {{ago .LastBackup}}`

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Commands to manage servers",
	Long:  `Commands to register game servers and inspect them.`,
}

var serverAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Register a server",
	Long: `Register a server as a deploy target.

Backing up a server registers it implicitly. Registering again updates the transport handle
and keeps track of the deployed snapshot.`,
	Example: `% confmon server add --server eu-west-1`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		a := mustOpenApp(ctx)
		defer a.Close()

		target, err := a.runtime.RegisterServer(ctx, confmonFlags.server.ID, confmonFlags.server.Transport)
		if err != nil {
			a.fatalln("register server", err)
			return
		}
		infoLogger.Printf("server %s registered", target.ServerID)
	},
}

var serverListCmd = &cobra.Command{
	Use:   "list",
	Short: "List servers",
	Long:  `List the servers with a backup history, with their head and deployed snapshots.`,
	Example: `% confmon server list
eu-west-1 , 4 snapshot(s) , head 2f1c0d9e6a7b , deployed 2f1c0d9e6a7b , 12.3kB , last backup 3 hours ago`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		a := mustOpenApp(ctx)
		defer a.Close()

		if err := printItems(a.runtime.Stats(ctx), lineTemplate("server line", serverLineTemplate)); err != nil {
			a.fatalln("list servers", err)
		}
	},
}

func init() {
	requireFlags(serverAddCmd,
		addServerFlag(serverAddCmd),
	)
	addTransportFlag(serverAddCmd)

	addTemplateFlag(serverListCmd)

	serverCmd.AddCommand(serverAddCmd, serverListCmd)
	rootCmd.AddCommand(serverCmd)
}
