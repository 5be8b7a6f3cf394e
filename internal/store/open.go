package store

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/kiranshivaraju/pavi/internal/config"
)

// Open connects the store named by cfg.Store.Driver and checks it is
// reachable. awsCfg is only used by the dynamodb driver. Postgres migrations
// are not applied here; see RunMigrations.
func Open(ctx context.Context, cfg *config.Config, awsCfg aws.Config) (Store, error) {
	switch cfg.Store.Driver {
	case "memory":
		return NewMemoryStore(), nil
	case "postgres":
		pool, err := Connect(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		return NewPostgresStore(pool), nil
	case "dynamodb":
		s := NewDynamoDBStore(NewDynamoDBClient(awsCfg, cfg.DynamoDB.Endpoint), cfg.DynamoDB.Table)
		if err := s.Ping(ctx); err != nil {
			return nil, fmt.Errorf("ping dynamodb table %s: %w", cfg.DynamoDB.Table, err)
		}
		return s, nil
	case "redis":
		s, err := NewRedisStore(cfg.Redis.URL)
		if err != nil {
			return nil, fmt.Errorf("create redis store: %w", err)
		}
		if err := s.Ping(ctx); err != nil {
			s.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown job store %q", cfg.Store.Driver)
	}
}
