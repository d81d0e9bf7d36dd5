package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"backend-orienteering/internal/activity"
	"backend-orienteering/internal/config"
	"backend-orienteering/internal/course"
	"backend-orienteering/internal/db"
	"backend-orienteering/internal/log"
	"backend-orienteering/internal/server"
	"backend-orienteering/internal/settings"
	"backend-orienteering/internal/sync"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// env holds what every subcommand needs once flags and config are resolved.
type env struct {
	cfg     config.Config
	logger  *zap.Logger
	service *sync.Service
	close   func()
}

// openEnv is swapped in tests.
var openEnv = func(ctx context.Context, cfg config.Config) (*env, error) {
	logger, err := log.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, err
	}
	pool, err := db.ConnectPostgres(cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := db.CreateSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	rdb := db.ConnectRedis(cfg)
	prefs := settings.NewProvider(rdb, settings.Accuracy(cfg.GPSAccuracy), logger)
	svc := server.NewSyncService(cfg, course.NewStore(pool), activity.NewStore(pool), prefs, logger)
	return &env{
		cfg:     cfg,
		logger:  logger,
		service: svc,
		close: func() {
			pool.Close()
			if rdb != nil {
				_ = rdb.Close()
			}
			_ = logger.Sync()
		},
	}, nil
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	var cfgFile string

	root := &cobra.Command{
		Use:           "orienteer",
		Short:         "Maintenance commands for the orienteering backend",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cfgFile != "" {
				v.SetConfigFile(cfgFile)
				if err := v.ReadInConfig(); err != nil {
					return fmt.Errorf("read config: %w", err)
				}
				fmt.Fprintln(os.Stderr, "Using config file:", v.ConfigFileUsed())
			}
			bindFlags(cmd, v)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml)")
	root.PersistentFlags().String("postgres-url", "", "connection string for the local database")
	root.PersistentFlags().String("redis-addr", "", "redis address for user settings")
	root.PersistentFlags().String("remote-api-url", "", "base url of the orienteering server api")
	root.PersistentFlags().String("remote-api-token", "", "bearer token for the server api")
	root.PersistentFlags().Duration("remote-api-timeout", 0, "timeout per server api call")
	root.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	root.PersistentFlags().String("log-format", "", "log format (console, json)")

	root.AddCommand(newSyncCmd(v))
	root.AddCommand(newRecomputeCmd(v))
	return root
}

// bindFlags makes every flag that was set on the command line override the
// matching config key, e.g. --postgres-url overrides POSTGRES_URL.
func bindFlags(cmd *cobra.Command, v *viper.Viper) {
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if f.Name == "config" || !f.Changed {
			return
		}
		key := strings.ToUpper(strings.ReplaceAll(f.Name, "-", "_"))
		if err := v.BindPFlag(key, f); err != nil {
			fmt.Fprintf(os.Stderr, "Could not bind flag %s: %v\n", f.Name, err)
		}
	})
}

func withEnv(cmd *cobra.Command, v *viper.Viper, fn func(ctx context.Context, e *env) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	e, err := openEnv(ctx, config.LoadFrom(v))
	if err != nil {
		return err
	}
	defer e.close()
	return fn(ctx, e)
}
