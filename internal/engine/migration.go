package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/celerix-dev/celerix-expenses/internal/metrics"
	"github.com/celerix-dev/celerix-expenses/pkg/blob"
	"github.com/celerix-dev/celerix-expenses/pkg/schema"
)

// legacyNamespace seeds ids for legacy entries that were stored without one,
// so re-running a migration assigns the same id to the same entry.
var legacyNamespace = uuid.MustParse("0b7d3c1e-6f1a-4c7e-9a55-3f0c2d8e4b21")

// MigrationResult reports what a migration run did.
type MigrationResult struct {
	Found    bool     `json:"found"` // a legacy blob was present
	Migrated int      `json:"migrated"`
	Skipped  int      `json:"skipped"`
	IDs      []string `json:"ids"`
}

// Migrator upgrades the legacy single-array blob to one record per submission
// plus an index. The legacy blob is left in place, and every run rewrites the
// same records under the same keys, so running it again is harmless.
type Migrator struct {
	store  blob.Store
	logger *slog.Logger
	now    func() time.Time
}

// NewMigrator returns a migrator over store.
func NewMigrator(store blob.Store, logger *slog.Logger) *Migrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Migrator{store: store, logger: logger, now: time.Now}
}

// Run migrates the legacy blob if one exists. A record that cannot be decoded
// or written is logged and skipped; the index is written once at the end,
// merged with any index that already exists, in legacy array order.
func (m *Migrator) Run(ctx context.Context) (MigrationResult, error) {
	var res MigrationResult

	content, err := m.store.Fetch(ctx, LegacyKey)
	if errors.Is(err, blob.ErrNotFound) {
		return res, nil
	}
	if err != nil {
		metrics.MigrationsTotal.WithLabelValues("error").Inc()
		return res, fmt.Errorf("failed to fetch legacy submissions: %w", err)
	}
	res.Found = true

	var entries []json.RawMessage
	if err := json.Unmarshal(content, &entries); err != nil {
		metrics.MigrationsTotal.WithLabelValues("error").Inc()
		return res, fmt.Errorf("legacy submissions are not a JSON array: %w", err)
	}
	m.logger.Info("migrating legacy submissions", "count", len(entries))

	for i, raw := range entries {
		s, err := decodeLegacy(raw)
		if err != nil {
			m.logger.Warn("skipping legacy submission", "position", i, "error", err)
			res.Skipped++
			continue
		}
		if err := writeRecord(ctx, m.store, s); err != nil {
			m.logger.Warn("failed to write migrated submission", "id", s.ID, "error", err)
			res.Skipped++
			continue
		}
		res.IDs = append(res.IDs, s.ID)
		res.Migrated++
	}

	if res.Migrated == 0 && len(entries) > 0 {
		metrics.MigrationsTotal.WithLabelValues("error").Inc()
		return res, fmt.Errorf("no legacy submissions could be migrated (%d skipped)", res.Skipped)
	}

	ix, _, err := readIndex(ctx, m.store)
	if err != nil {
		// Unreadable index: rebuild it from what was just migrated.
		m.logger.Warn("replacing unreadable index during migration", "error", err)
		ix = schema.Index{}
	}
	ix.Append(res.IDs...)
	now := m.now().UTC()
	ix.LastUpdated = &now
	ix.MigratedAt = &now
	if err := writeIndex(ctx, m.store, ix); err != nil {
		metrics.MigrationsTotal.WithLabelValues("error").Inc()
		return res, fmt.Errorf("failed to write index after migration: %w", err)
	}

	outcome := "complete"
	if res.Skipped > 0 {
		outcome = "partial"
	}
	metrics.MigrationsTotal.WithLabelValues(outcome).Inc()
	m.logger.Info("legacy migration finished", "migrated", res.Migrated, "skipped", res.Skipped)
	return res, nil
}

// decodeLegacy parses one legacy entry. Legacy ids were sometimes numbers;
// they are normalized to strings. Entries without an id get one derived from
// their content.
func decodeLegacy(raw json.RawMessage) (*schema.Submission, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return nil, err
	}
	if fields == nil {
		return nil, errors.New("null entry")
	}

	switch id := fields["id"].(type) {
	case json.Number:
		fields["id"] = id.String()
	case string:
	case nil:
		fields["id"] = uuid.NewSHA1(legacyNamespace, raw).String()
	default:
		return nil, fmt.Errorf("unsupported id type %T", id)
	}

	normalized, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}
	var s schema.Submission
	if err := json.Unmarshal(normalized, &s); err != nil {
		return nil, err
	}
	if s.ID == "" {
		s.ID = uuid.NewSHA1(legacyNamespace, raw).String()
	}
	if err := validateID(s.ID); err != nil {
		return nil, fmt.Errorf("%w: %q", err, s.ID)
	}
	return &s, nil
}
