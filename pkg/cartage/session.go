package cartage

import (
	"context"
	"fmt"

	"github.com/ikkim/cartage/pkg/logger"
)

// withSession opens one store session for op and always releases it.
func withSession(ctx context.Context, provider StoreProvider, op string, fn func(Store) error) error {
	store, err := provider.Session(ctx)
	if err != nil {
		logger.Error("Failed to open store session", err, map[string]interface{}{
			"op": op,
		})
		return err
	}
	defer func() {
		if cerr := store.Close(); cerr != nil {
			logger.Warn("Failed to close store session", map[string]interface{}{
				"op":    op,
				"error": cerr.Error(),
			})
		}
	}()

	return fn(store)
}

// inTransaction brackets fn with begin/commit. On failure the transaction is
// rolled back and the error of fn (or of the commit) is returned as is.
func inTransaction(store Store, op string, fn func() error) error {
	if err := store.BeginTransaction(); err != nil {
		logger.Error("Failed to begin transaction", err, map[string]interface{}{
			"op": op,
		})
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			rollback(store, op)
			logger.Error("Transaction rolled back due to panic", fmt.Errorf("panic: %v", r), map[string]interface{}{
				"op": op,
			})
			panic(r)
		}
	}()

	if err := fn(); err != nil {
		rollback(store, op)
		return err
	}

	if err := store.CommitTransaction(); err != nil {
		logger.Error("Failed to commit transaction", err, map[string]interface{}{
			"op": op,
		})
		rollback(store, op)
		return err
	}
	return nil
}

func rollback(store Store, op string) {
	if err := store.RollbackTransaction(); err != nil {
		logger.Error("Failed to roll back transaction", err, map[string]interface{}{
			"op": op,
		})
	}
}
