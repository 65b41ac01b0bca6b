package main

import (
	"context"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/courier"
	"github.com/xraph/courier/store"
	"github.com/xraph/courier/store/memory"
	"github.com/xraph/courier/store/mongo"
	"github.com/xraph/courier/store/postgres"
	"github.com/xraph/courier/store/redis"
	"github.com/xraph/courier/store/sqlite"
)

// openStore connects the backend named by sec.Driver. The returned func
// releases everything openStore acquired.
func openStore(ctx context.Context, sec courier.StoreSection, logger *slog.Logger) (store.Store, func() error, error) {
	switch sec.Driver {
	case courier.DriverMemory, "":
		s := memory.New()
		return s, s.Close, nil

	case courier.DriverPostgres:
		s, err := postgres.New(ctx, sec.DSN, postgres.WithLogger(logger))
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil

	case courier.DriverSQLite:
		path := sec.Path
		if path == "" {
			path = sec.DSN
		}
		s, err := sqlite.Open(ctx, path, sqlite.WithLogger(logger))
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil

	case courier.DriverRedis:
		client := goredis.NewClient(&goredis.Options{
			Addr:     sec.Addr,
			Password: sec.Password,
			DB:       sec.DB,
		})
		s := redis.New(client, redis.WithLogger(logger))
		if err := s.Ping(ctx); err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return s, client.Close, nil

	case courier.DriverMongo:
		s, err := mongo.Connect(ctx, sec.URI, sec.Database, mongo.WithLogger(logger))
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", sec.Driver)
	}
}
