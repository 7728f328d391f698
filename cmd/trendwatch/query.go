package main

import (
	"context"
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/trendwatch/config"
	srv "github.com/mohammad-safakhou/trendwatch/internal/server"
)

func queryCMD() *cobra.Command {
	var cfgPath string
	var query = &cobra.Command{
		Use:   "query <topic>",
		Short: "Run the pipeline once for a topic and print the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), cfgPath, func(ctx context.Context, app *srv.App) error {
				return printJSON(app.Coordinator.ProcessQuery(ctx, args[0]))
			})
		},
	}
	query.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")
	return query
}

func fanoutCMD() *cobra.Command {
	var cfgPath string
	var fanout = &cobra.Command{
		Use:   "fanout",
		Short: "Deliver unsent trends to subscribers once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), cfgPath, func(ctx context.Context, app *srv.App) error {
				return printJSON(app.Coordinator.FanOut(ctx))
			})
		},
	}
	fanout.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")
	return fanout
}

func withApp(ctx context.Context, cfgPath string, fn func(context.Context, *srv.App) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := config.LoadConfig(cfgPath)
	app, err := srv.NewApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close(context.Background())
	return fn(ctx, app)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
