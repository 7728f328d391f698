package main

import (
	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/trendwatch/config"
	srv "github.com/mohammad-safakhou/trendwatch/internal/server"
)

func serveCMD() *cobra.Command {
	var serveAddr string
	var cfgPath string
	var migrate bool
	var serve = &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API with the background pipeline cycle",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			return srv.Run(cmd.Context(), cfg, srv.Options{Addr: serveAddr, Migrate: migrate})
		},
	}
	serve.Flags().StringVar(&serveAddr, "addr", "", "listen address (default server.address)")
	serve.Flags().BoolVar(&migrate, "migrate", false, "apply pending migrations before starting")
	serve.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return serve
}
