package main

import (
	"context"

	"github.com/meridianfed/fedres/internal/bootstrap"
	"github.com/meridianfed/fedres/internal/database"
	"github.com/meridianfed/fedres/pkg/config"
)

func openDatabase(ctx context.Context, configPath, dsn string) (database.Plugin, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	return bootstrap.OpenDatabase(ctx, dsn, cfg)
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}
