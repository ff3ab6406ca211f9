package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/ikkim/cartage/config"
	"github.com/ikkim/cartage/internal/app/repository"
	"github.com/ikkim/cartage/internal/db"
	"github.com/ikkim/cartage/pkg/cartage"
	"github.com/ikkim/cartage/pkg/logger"
	"github.com/ikkim/cartage/pkg/redis"
)

const usage = `Usage: cartage <command> [flags]

Commands:
  serve     run the cart HTTP API
  migrate   create or update the cart tables
  purge     delete stale carts once
  janitor   delete stale carts on the configured schedule
  report    export carts to XLSX, to a file or to S3
  import    add lines from an XLSX file to a cart
  token     issue or revoke access tokens
`

type command func(cfg *config.Config, args []string) error

var commands = map[string]command{
	"serve":   runServe,
	"migrate": runMigrate,
	"purge":   runPurge,
	"janitor": runJanitor,
	"report":  runReport,
	"import":  runImport,
	"token":   runToken,
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	run, ok := commands[os.Args[1]]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load configuration", err)
	}

	logger.Initialize(logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		EnableColor: cfg.Environment == "development",
	})

	logger.Info("Running cartage command", map[string]interface{}{
		"command":     os.Args[1],
		"environment": cfg.Environment,
		"store":       cfg.Store.Driver,
	})

	if err := run(cfg, os.Args[2:]); err != nil {
		logger.Fatal("Command failed", err, map[string]interface{}{
			"command": os.Args[1],
		})
	}
}

// openStore connects the configured backend and returns a provider for it
// along with the function releasing the connection.
func openStore(cfg *config.Config) (cartage.StoreProvider, func(), error) {
	switch cfg.Store.Driver {
	case config.DriverRedis:
		if err := redis.Init(&cfg.Redis); err != nil {
			return nil, nil, err
		}
		closeRedis := func() {
			if err := redis.Close(); err != nil {
				logger.Error("Failed to close Redis connection", err)
			}
		}
		return repository.NewRedisCartStoreProvider(redis.GetClient(), cfg.Redis.KeyPrefix), closeRedis, nil
	default:
		if err := db.Initialize(cfg); err != nil {
			return nil, nil, err
		}
		closeDB := func() {
			if err := db.Close(); err != nil {
				logger.Error("Failed to close database connection", err)
			}
		}
		return repository.NewCartStoreProvider(db.GetDB()), closeDB, nil
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
