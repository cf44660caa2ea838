package redis

import "time"

type Config struct {
	ConnectionURL  string        `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"` // ConnectionURL is the URL of the database. It should be in the format "redis://:password@localhost:6379/0"
	RetryAttempts  int           `env:"REDIS_RETRY_ATTEMPTS" envDefault:"3"`             // RetryAttempts is the number of retry attempts to connect to the database.
	RetryInterval  time.Duration `env:"REDIS_RETRY_INTERVAL" envDefault:"5s"`            // RetryInterval is the interval between retry attempts.
	ConnectTimeout time.Duration `env:"REDIS_CONNECT_TIMEOUT" envDefault:"30s"`          // ConnectTimeout bounds the whole connection phase, retries included.

	KeyPrefix    string        `env:"REDIS_KEY_PREFIX" envDefault:"featurelab"`  // KeyPrefix namespaces every key written by this module.
	EvalCacheTTL time.Duration `env:"REDIS_EVAL_CACHE_TTL" envDefault:"30s"`     // EvalCacheTTL is how long an evaluation result stays cached.
}
