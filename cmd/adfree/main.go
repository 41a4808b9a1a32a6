package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/orris-inc/adfree/internal/interfaces/cli/client"
	"github.com/orris-inc/adfree/internal/interfaces/cli/migrate"
	"github.com/orris-inc/adfree/internal/interfaces/cli/server"
	"github.com/orris-inc/adfree/internal/shared/version"
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "adfree",
		Short:   "Adfree - ad-free entitlement reconciliation",
		Long:    `Adfree runs the entitlement authority server, its migrations, and a client that reconciles a user's ad-free entitlement against the platform store.`,
		Version: version.Version,
	}

	rootCmd.AddCommand(
		server.NewCommand(),
		migrate.NewCommand(),
		client.NewCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
