package store_test

import (
	"context"
	"database/sql"
	"time"

	"github.com/mohammad-safakhou/orderdesk/internal/store"
)

// openWithRetry waits for the container to accept connections.
func openWithRetry(ctx context.Context, dsn string) (*sql.DB, error) {
	var lastErr error
	for i := 0; i < 20; i++ {
		db, err := store.Open(ctx, dsn)
		if err == nil {
			return db, nil
		}
		lastErr = err
		time.Sleep(500 * time.Millisecond)
	}
	return nil, lastErr
}
