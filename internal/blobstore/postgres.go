package blobstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	_ "github.com/lib/pq"

	"github.com/celerix-dev/celerix-expenses/pkg/blob"
)

var tableNameRx = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]{0,62}$`)

// PostgresStore keeps blobs as rows of a single table.
type PostgresStore struct {
	db      *sql.DB
	table   string
	baseURL string
}

// OpenPostgres connects to databaseURL and ensures the blob table exists.
func OpenPostgres(ctx context.Context, databaseURL, table, baseURL string) (*PostgresStore, error) {
	if !tableNameRx.MatchString(table) {
		return nil, fmt.Errorf("blobstore: invalid table name %q", table)
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("blobstore: postgres ping: %w", err)
	}

	p := &PostgresStore{db: db, table: table, baseURL: baseURL}
	if _, err := db.ExecContext(ctx, p.schemaSQL()); err != nil {
		db.Close()
		return nil, fmt.Errorf("blobstore: create table: %w", err)
	}
	return p, nil
}

func (p *PostgresStore) schemaSQL() string {
	return fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			pathname     TEXT PRIMARY KEY,
			content_type TEXT NOT NULL DEFAULT '',
			body         BYTEA NOT NULL,
			uploaded_at  TIMESTAMPTZ NOT NULL
		)`, p.table)
}

func (p *PostgresStore) Put(ctx context.Context, key string, body []byte, contentType string) (blob.Blob, error) {
	if err := validateKey(key); err != nil {
		return blob.Blob{}, err
	}
	now := time.Now().UTC()
	_, err := p.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (pathname, content_type, body, uploaded_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (pathname) DO UPDATE
		SET content_type = EXCLUDED.content_type, body = EXCLUDED.body, uploaded_at = EXCLUDED.uploaded_at`, p.table),
		key, contentType, body, now)
	if err != nil {
		return blob.Blob{}, fmt.Errorf("failed to upsert blob %s: %w", key, err)
	}
	return p.describe(key, contentType, int64(len(body)), now), nil
}

func (p *PostgresStore) List(ctx context.Context, prefix string) ([]blob.Blob, error) {
	rows, err := p.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT pathname, content_type, octet_length(body), uploaded_at
		FROM %s WHERE starts_with(pathname, $1) ORDER BY pathname`, p.table), prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list blobs: %w", err)
	}
	defer rows.Close()

	var list []blob.Blob
	for rows.Next() {
		var (
			key, contentType string
			size             int64
			uploaded         time.Time
		)
		if err := rows.Scan(&key, &contentType, &size, &uploaded); err != nil {
			return nil, fmt.Errorf("failed to scan blob row: %w", err)
		}
		list = append(list, p.describe(key, contentType, size, uploaded.UTC()))
	}
	return list, rows.Err()
}

func (p *PostgresStore) Fetch(ctx context.Context, key string) ([]byte, error) {
	var body []byte
	err := p.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT body FROM %s WHERE pathname = $1`, p.table), key).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, blob.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch blob %s: %w", key, err)
	}
	return body, nil
}

func (p *PostgresStore) Delete(ctx context.Context, key string) error {
	_, err := p.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE pathname = $1`, p.table), key)
	if err != nil {
		return fmt.Errorf("failed to delete blob %s: %w", key, err)
	}
	return nil
}

// Close closes the database connection pool.
func (p *PostgresStore) Close() error {
	return p.db.Close()
}

func (p *PostgresStore) describe(key, contentType string, size int64, uploaded time.Time) blob.Blob {
	u := publicURL(p.baseURL, key)
	return blob.Blob{
		Pathname:    key,
		URL:         u,
		DownloadURL: u,
		ContentType: contentType,
		Size:        size,
		UploadedAt:  uploaded,
	}
}
