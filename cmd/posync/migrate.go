package main

import (
	"context"
	"fmt"

	"bitbucket.org/mmdatafocus/pos_sync/config"
	"bitbucket.org/mmdatafocus/pos_sync/tenant"
	"github.com/spf13/cobra"
)

func newMigrateCommand(opts *rootOptions) *cobra.Command {
	var schemas []string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run table migrations for the public schema and the given tenant schemas",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			return migrate(ctx, opts, schemas, cmd)
		},
	}
	cmd.Flags().StringSliceVar(&schemas, "schema", nil, "tenant schema to migrate (repeatable)")
	return cmd
}

func migrate(ctx context.Context, opts *rootOptions, schemas []string, cmd *cobra.Command) error {
	for _, s := range schemas {
		if !tenant.ValidSchemaName(s) {
			return fmt.Errorf("invalid schema name %q", s)
		}
	}
	connector := tenant.NewMySQLConnector(opts.cfg, opts.logger)
	connector.Migrate = true
	pool, err := tenant.NewPool(connector, tenant.NewContext(), opts.cfg.TenantPoolMax, opts.logger, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err := pool.Shutdown(context.Background()); err != nil {
			config.LogError(opts.logger, "posync", "migrate", "shutdown tenant pool", nil, err)
		}
	}()

	for _, s := range append([]string{""}, schemas...) {
		if _, err := pool.Client(ctx, s); err != nil {
			return fmt.Errorf("migrate %q: %w", displaySchema(s), err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "migrated %s\n", displaySchema(s))
	}
	return nil
}

func displaySchema(s string) string {
	if s == "" {
		return "public"
	}
	return s
}
