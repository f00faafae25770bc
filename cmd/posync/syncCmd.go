package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// syncOptions select the tenant a one-shot command runs against. There is no
// login on this path, so the schema is activated directly.
type syncOptions struct {
	*rootOptions
	schema   string
	tenantID string
}

func newSyncCommand(root *rootOptions) *cobra.Command {
	opts := &syncOptions{rootOptions: root}

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run sync operations once against a tenant schema",
	}
	cmd.PersistentFlags().StringVar(&opts.schema, "schema", "", "tenant schema (required)")
	cmd.PersistentFlags().StringVar(&opts.tenantID, "tenant", "", "tenant id (required)")
	_ = cmd.MarkPersistentFlagRequired("schema")
	_ = cmd.MarkPersistentFlagRequired("tenant")

	cmd.AddCommand(&cobra.Command{
		Use:   "run-once",
		Short: "Push the outbox, then pull remote changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(ctx context.Context, a *app) (string, error) {
				if err := a.worker.RunOnce(ctx); err != nil {
					return "", err
				}
				return fmt.Sprintf("cycle finished: %s", a.worker.Status().State), nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "push",
		Short: "Push pending outbox entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(ctx context.Context, a *app) (string, error) {
				n, err := a.engine.PushOutbox(ctx)
				return fmt.Sprintf("pushed %d entries", n), err
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "pull",
		Short: "Pull remote changes since the checkpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(ctx context.Context, a *app) (string, error) {
				n, err := a.engine.PullChanges(ctx)
				return fmt.Sprintf("applied %d changes", n), err
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "bootstrap",
		Short: "Replace local records with a full remote snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(ctx context.Context, a *app) (string, error) {
				if err := a.engine.Bootstrap(ctx); err != nil {
					return "", err
				}
				return "bootstrap complete", nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Print the number of pending outbox entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(ctx context.Context, a *app) (string, error) {
				n, err := a.engine.PendingCount(ctx)
				return fmt.Sprintf("%d pending", n), err
			})
		},
	})
	return cmd
}

func (o *syncOptions) run(cmd *cobra.Command, fn func(ctx context.Context, a *app) (string, error)) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := buildApp(ctx, o.cfg, o.logger)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	if err := a.useSchema(o.schema, o.tenantID); err != nil {
		return err
	}
	if _, err := a.engine.EnsureDeviceID(ctx); err != nil {
		return err
	}
	msg, err := fn(ctx, a)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), msg)
	return nil
}
