package cli

import (
	"fmt"

	"github.com/spf13/pflag"

	"github.com/roach88/flowscript/internal/store"
	"github.com/roach88/flowscript/internal/store/redisstore"
)

// openStore opens the configured snapshot store. It returns nil when no
// backend is configured.
func openStore(cfg StoreConfig) (store.SnapshotStore, error) {
	switch {
	case cfg.SQLite != "" && cfg.Redis != "":
		return nil, NewExitError(ExitCommandError, ErrCodeConfig+": --db and --redis are mutually exclusive")
	case cfg.SQLite != "":
		s, err := store.Open(cfg.SQLite)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, ErrCodeStore+": failed to open database", err)
		}
		return s, nil
	case cfg.Redis != "":
		var opts []redisstore.Option
		if cfg.RedisPrefix != "" {
			opts = append(opts, redisstore.WithPrefix(cfg.RedisPrefix))
		}
		if cfg.TTL > 0 {
			opts = append(opts, redisstore.WithTTL(cfg.TTL))
		}
		return redisstore.New(cfg.Redis, "", 0, opts...), nil
	}
	return nil, nil
}

// storeFlags are the backend flags shared by run and inspect.
type storeFlags struct {
	db     string
	redis  string
	prefix string
	key    string
}

func (f *storeFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&f.db, "db", "", "SQLite snapshot database")
	fs.StringVar(&f.redis, "redis", "", "Redis address for snapshots (host:port)")
	fs.StringVar(&f.prefix, "redis-prefix", "", "Redis key prefix")
	fs.StringVar(&f.key, "key", "", "snapshot key (instance id)")
}

func (f *storeFlags) apply(cfg *StoreConfig, changed func(string) bool) {
	if changed("db") {
		cfg.SQLite = f.db
	}
	if changed("redis") {
		cfg.Redis = f.redis
	}
	if changed("redis-prefix") {
		cfg.RedisPrefix = f.prefix
	}
	if changed("key") {
		cfg.Key = f.key
	}
}

func describeStore(cfg StoreConfig) string {
	switch {
	case cfg.SQLite != "":
		return fmt.Sprintf("sqlite %s", cfg.SQLite)
	case cfg.Redis != "":
		return fmt.Sprintf("redis %s", cfg.Redis)
	}
	return "none"
}
