package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	buildVersion = "N/A" // set by ldflags
	buildDate    = "N/A" // set by ldflags
	buildCommit  = "N/A" // set by ldflags
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT, os.Interrupt)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

// newRootCmd creates the moodist-server command. Without a subcommand it serves.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "moodist-server",
		Short:        "Account and connection API for the Moodist study",
		SilenceUsage: true,
		RunE:         runServe,
	}

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newMigrateCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Print(versionString())
		},
	}
}

func versionString() string {
	tmpl := `Build version: %s
Build date: %s
Build commit: %s
`
	return fmt.Sprintf(tmpl, buildVersion, buildDate, buildCommit)
}
