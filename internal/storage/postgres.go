package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"supportdraft/internal/metrics"
)

// Open connects to Postgres and verifies the connection
func Open(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", adjustDatabaseURLForEnvironment(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

func adjustDatabaseURLForEnvironment(databaseURL string) string {
	// Railway PostgreSQL does not support SSL
	if os.Getenv("RAILWAY_ENVIRONMENT") != "" || strings.Contains(databaseURL, "railway.app") {
		parsedURL, err := url.Parse(databaseURL)
		if err != nil {
			return databaseURL
		}

		values := parsedURL.Query()
		values.Set("sslmode", "disable")
		parsedURL.RawQuery = values.Encode()
		return parsedURL.String()
	}

	return databaseURL
}

// InitSchema creates the extensions, tables and indexes the service needs
func InitSchema(ctx context.Context, db *sql.DB, embeddingDimensions int) error {
	slog.Info("Initializing database schema...", "embedding_dimensions", embeddingDimensions)

	for _, ext := range []string{"vector", "pg_trgm", "pgcrypto"} {
		if _, err := db.ExecContext(ctx, fmt.Sprintf("CREATE EXTENSION IF NOT EXISTS %s;", ext)); err != nil {
			return fmt.Errorf("failed to create %s extension: %w", ext, err)
		}
	}

	tables := []string{
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS faq_chunks (
			id BIGSERIAL PRIMARY KEY,
			question TEXT,
			content TEXT NOT NULL,
			embedding vector(%d),
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		);`, embeddingDimensions),
		`
		CREATE TABLE IF NOT EXISTS slack_thread_store (
			channelio_chat_id TEXT PRIMARY KEY,
			slack_thread_ts TEXT NOT NULL,
			last_updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
			expires_at TIMESTAMP WITH TIME ZONE NOT NULL
		);`,
		`
		CREATE TABLE IF NOT EXISTS slack_feedback (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			feedback_type TEXT NOT NULL,
			message_content TEXT,
			channelio_chat_id TEXT,
			slack_thread_ts TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		);`,
	}
	for _, tableSQL := range tables {
		if _, err := db.ExecContext(ctx, tableSQL); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_faq_chunks_content_trgm ON faq_chunks USING gin (content gin_trgm_ops);",
		"CREATE INDEX IF NOT EXISTS idx_slack_thread_store_expires ON slack_thread_store(expires_at);",
		"CREATE INDEX IF NOT EXISTS idx_slack_feedback_thread ON slack_feedback(slack_thread_ts);",
	}
	for _, indexSQL := range indexes {
		if _, err := db.ExecContext(ctx, indexSQL); err != nil {
			slog.Warn("Failed to create index", "error", err, "sql", indexSQL)
		}
	}

	// may fail on an empty table
	vectorIndexSQL := "CREATE INDEX IF NOT EXISTS idx_faq_chunks_embedding ON faq_chunks USING ivfflat (embedding vector_cosine_ops);"
	if _, err := db.ExecContext(ctx, vectorIndexSQL); err != nil {
		slog.Warn("Could not create vector index", "error", err)
	}

	var ctype string
	err := db.QueryRowContext(ctx, "SELECT datctype FROM pg_database WHERE datname = current_database()").Scan(&ctype)
	if err == nil && !trigramLocaleSupported(ctype) {
		slog.Warn("Database LC_CTYPE treats non-ASCII letters as separators; pg_trgm extracts no trigrams from Japanese text, so candidates come from vector distance only",
			"lc_ctype", ctype)
	}

	slog.Info("Database schema initialization completed")
	return nil
}

// trigramLocaleSupported reports whether pg_trgm can see multibyte letters
// under the given LC_CTYPE
func trigramLocaleSupported(ctype string) bool {
	switch strings.ToUpper(strings.TrimSpace(ctype)) {
	case "C", "POSIX":
		return false
	}
	return true
}

// observe records a database operation's outcome and latency
func observe(operation string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.DatabaseOperations.WithLabelValues(operation, status).Inc()
	metrics.DatabaseOperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
