package redis

import (
	"time"

	"github.com/angelmondragon/pharmacy-backend/pkg/config"
)

func configWithURL(url string) config.RedisConfig {
	return config.RedisConfig{
		URL:          url,
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	}
}
