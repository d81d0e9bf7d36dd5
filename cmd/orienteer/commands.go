package main

import (
	"context"
	"encoding/json"
	"fmt"

	"backend-orienteering/internal/sync"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func newSyncCmd(v *viper.Viper) *cobra.Command {
	var userID int64
	var entity string

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Upload unsynced maps and activities of a user and download the server state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if userID <= 0 {
				return fmt.Errorf("--user is required")
			}
			return withEnv(cmd, v, func(ctx context.Context, e *env) error {
				var out any
				var err error
				switch entity {
				case "all":
					out, err = e.service.SyncAll(ctx, userID)
				case sync.EntityMaps:
					out, err = e.service.SyncMaps(ctx, userID)
				case sync.EntityActivities:
					out, err = e.service.SyncActivities(ctx, userID)
				default:
					return fmt.Errorf("unknown entity %q", entity)
				}
				if perr := printJSON(cmd, out); perr != nil {
					return perr
				}
				if err != nil {
					e.logger.Error("sync failed", zap.Int64("user_id", userID), zap.Error(err))
				}
				return err
			})
		},
	}
	cmd.Flags().Int64Var(&userID, "user", 0, "user id to sync")
	cmd.Flags().StringVar(&entity, "entity", "all", "what to sync: all, maps or activities")
	return cmd
}

func newRecomputeCmd(v *viper.Viper) *cobra.Command {
	var userID int64

	cmd := &cobra.Command{
		Use:   "recompute",
		Short: "Re-derive visited control points and status of a user's activities",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if userID <= 0 {
				return fmt.Errorf("--user is required")
			}
			return withEnv(cmd, v, func(ctx context.Context, e *env) error {
				n, err := e.service.Recompute(ctx, userID)
				if err != nil {
					return err
				}
				return printJSON(cmd, map[string]int{"changed": n})
			})
		},
	}
	cmd.Flags().Int64Var(&userID, "user", 0, "user id whose activities are recomputed")
	return cmd
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
