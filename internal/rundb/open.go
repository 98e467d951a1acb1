package rundb

import (
	"fmt"

	"task-scheduler-service/internal/config"
	gormdb "task-scheduler-service/pkg/db"
)

var (
	_ Store = (*SQLStore)(nil)
	_ Store = (*RedisStore)(nil)
)

// Open builds the run-record store selected by the configuration.
// Callers needing independent handles (one per execution context) call
// Open once per context.
func Open(cfg config.Config) (Store, error) {
	switch cfg.RunDBBackend {
	case "redis":
		return NewRedisStore(cfg.RedisAddr, cfg.RedisPrefix), nil
	case "sql":
		db, err := gormdb.New(cfg.DBType, cfg.DBDSN)
		if err != nil {
			return nil, err
		}
		return NewSQLStore(db)
	default:
		return nil, fmt.Errorf("unknown run DB backend %q (want \"redis\" or \"sql\")", cfg.RunDBBackend)
	}
}
