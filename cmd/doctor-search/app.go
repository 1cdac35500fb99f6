package main

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/doctor-search-proxy/pkg/config"
	"github.com/Sternrassler/doctor-search-proxy/pkg/index"
	"github.com/Sternrassler/doctor-search-proxy/pkg/pagination"
	"github.com/Sternrassler/doctor-search-proxy/pkg/ratelimit"
	"github.com/Sternrassler/doctor-search-proxy/pkg/search"
	"github.com/Sternrassler/doctor-search-proxy/pkg/server"
	"github.com/Sternrassler/doctor-search-proxy/pkg/upstream"
)

// app holds the wired components of one process.
type app struct {
	cfg     config.Config
	index   index.Index
	service *search.Service
	closers []func() error
}

func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	a := &app{cfg: cfg}

	idx, err := a.openIndex(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.index = idx

	ucfg := upstream.DefaultConfig(cfg.Upstream.APIKey)
	ucfg.BaseURL = cfg.Upstream.URL
	ucfg.Timeout = cfg.Upstream.Timeout
	ucfg.UserAgent = cfg.Upstream.UserAgent
	client, err := upstream.New(ucfg)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("create upstream client: %w", err)
	}

	coord := pagination.NewCoordinator(client, idx, cfg.Fetch.Pacing.Policy(), pagination.Config{
		SessionTimeout: cfg.Fetch.SessionTimeout,
	})
	a.service = search.NewService(idx, ratelimit.NewGate(), coord)
	return a, nil
}

func (a *app) openIndex(ctx context.Context) (index.Index, error) {
	ic := a.cfg.Index

	var idx index.Index
	switch ic.Backend {
	case config.BackendElasticsearch:
		es, err := index.NewElasticClient(ic.Elasticsearch.ElasticAddresses())
		if err != nil {
			return nil, err
		}
		idx = index.NewElasticIndex(es, ic.Name, ic.Size)
	case config.BackendRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     ic.Redis.Addr,
			Password: ic.Redis.Password,
			DB:       ic.Redis.DB,
		})
		a.closers = append(a.closers, rdb.Close)
		idx = index.NewRedisIndex(rdb, ic.Name, ic.Size)
	case config.BackendMemory:
		idx = index.NewMemoryIndex(ic.Size)
	default:
		return nil, fmt.Errorf("unknown index backend %q", ic.Backend)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := idx.Ping(pingCtx); err != nil {
		// The proxy still starts; /ready reports the outage.
		log.Warn().Err(err).Str("backend", idx.Name()).Msg("Index not reachable at startup")
	} else {
		log.Info().Str("backend", idx.Name()).Str("index", ic.Name).Msg("Connected to index")
	}
	return idx, nil
}

func (a *app) server() *server.Server {
	return server.New(server.Config{
		Addr:            a.cfg.Server.Addr(),
		ShutdownTimeout: a.cfg.Server.ShutdownTimeout,
	}, a.service, a.index)
}

// Close releases backend connections.
func (a *app) Close() {
	for _, c := range a.closers {
		if err := c(); err != nil {
			log.Warn().Err(err).Msg("Close failed")
		}
	}
	a.closers = nil
}
