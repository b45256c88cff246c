package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lvdashuaibi/electvote/config"
	"github.com/lvdashuaibi/electvote/internal/repository"
)

const migrateTimeout = time.Minute

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "创建MySQL表结构",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return err
			}
			logger, err := config.NewLogger(cfg.Log)
			if err != nil {
				return err
			}
			defer logger.Sync()

			if cfg.Storage.Driver != config.StorageMySQL {
				return fmt.Errorf("存储驱动为 %s，无需建表", cfg.Storage.Driver)
			}
			repo, err := repository.NewMySQLRepository(cfg.MySQL, logger)
			if err != nil {
				return err
			}
			defer repo.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), migrateTimeout)
			defer cancel()
			if err := repo.CreateSchema(ctx); err != nil {
				return err
			}
			logger.Info("表结构创建完成", zap.String("storage", cfg.Storage.Driver))
			return nil
		},
	}
}
