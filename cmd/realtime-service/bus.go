package main

import (
	"fmt"

	"github.com/luli-tech/taskPadi-be/internal/pubsub"
	"github.com/luli-tech/taskPadi-be/pkg/config"
	"github.com/luli-tech/taskPadi-be/pkg/database"
)

// openBus returns the relay backend named by RELAY_BACKEND, or nil when
// relaying is disabled
func openBus(cfg *config.Config, redisDB *database.RedisDB) (pubsub.Bus, error) {
	switch cfg.Realtime.RelayBackend {
	case config.RelayBackendNATS:
		nc, err := database.NewNATSConn(cfg.NATS)
		if err != nil {
			return nil, err
		}
		return pubsub.NewNATSBus(nc), nil
	case config.RelayBackendRedis:
		return pubsub.NewRedisBus(redisDB.Client), nil
	case config.RelayBackendMemory:
		return pubsub.NewMemoryBus(), nil
	case config.RelayBackendNone:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown relay backend %q", cfg.Realtime.RelayBackend)
	}
}
