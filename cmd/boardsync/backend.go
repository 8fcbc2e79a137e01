package main

import (
	"context"
	"fmt"
	"path"
	"strings"

	"go.uber.org/zap"

	"sdlcboard/api/internal/config"
	"sdlcboard/api/internal/gitrepo"
	"sdlcboard/api/internal/search"
	"sdlcboard/api/internal/store"
)

// backend is the configured board store plus the search service built on
// top of it.
type backend struct {
	store   store.Store
	search  *search.Service
	closers []func() error
}

func openBackend(ctx context.Context, cfg config.Config, logger *zap.Logger) (*backend, error) {
	b := &backend{}
	var pgfts *search.PgFTS

	switch cfg.Store {
	case config.StoreFile:
		fileStore, err := store.NewFileStore(cfg.BoardFile)
		if err != nil {
			return nil, err
		}
		b.store = fileStore

	case config.StoreGit:
		b.store = gitrepo.New(cfg.RepoDir, gitrepo.Options{
			Branch:    cfg.GitBranch,
			FileName:  path.Base(strings.ReplaceAll(cfg.BoardFile, "\\", "/")),
			RemoteURL: cfg.RemoteURL,
			Token:     cfg.GitHubToken,
		})

	case config.StorePostgres:
		pgStore, err := store.OpenPostgresStore(ctx, cfg.DatabaseURL, cfg.BoardName, cfg.MigrationsDir)
		if err != nil {
			return nil, err
		}
		b.store = pgStore
		b.closers = append(b.closers, pgStore.DB().Close)
		pgfts = search.NewPgFTS(pgStore.DB(), cfg.BoardName)

	case config.StoreRedis:
		redisStore, err := store.NewRedisStore(cfg.RedisURL, cfg.BoardName)
		if err != nil {
			return nil, err
		}
		b.store = redisStore
		b.closers = append(b.closers, redisStore.Close)

	case config.StoreS3:
		objectStore, err := store.NewObjectStore(ctx, store.ObjectConfig{
			Endpoint:  cfg.S3.Endpoint,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
			Bucket:    cfg.S3.Bucket,
			Key:       cfg.BoardName,
			UseSSL:    cfg.S3.UseSSL,
		})
		if err != nil {
			return nil, err
		}
		b.store = objectStore

	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliKey, logger)
	}
	b.search = search.NewService(meiliClient, pgfts, search.NewScan(b.store), logger)

	logger.Info("board store ready",
		zap.String("store", cfg.Store),
		zap.Bool("meilisearch", meiliClient != nil),
	)
	return b, nil
}

func (b *backend) Close() {
	if b.search != nil {
		b.search.Close()
	}
	for _, closeFn := range b.closers {
		if err := closeFn(); err != nil && logger != nil {
			logger.Warn("close backend", zap.Error(err))
		}
	}
}
