package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/celerix-dev/celerix-expenses/internal/config"
	"github.com/celerix-dev/celerix-expenses/internal/metrics"
	"github.com/celerix-dev/celerix-expenses/pkg/blob"
	"github.com/celerix-dev/celerix-expenses/pkg/schema"
)

// Options tunes repository reads.
type Options struct {
	FetchBudget     time.Duration // wall-clock budget for record fan-out in one load
	FetchWorkers    int
	DefaultPageSize int
	MaxPageSize     int
	Logger          *slog.Logger
}

// OptionsFromConfig maps the repository config section onto Options.
func OptionsFromConfig(c config.RepositoryConfig, logger *slog.Logger) Options {
	return Options{
		FetchBudget:     c.FetchBudget,
		FetchWorkers:    c.FetchWorkers,
		DefaultPageSize: c.DefaultPageSize,
		MaxPageSize:     c.MaxPageSize,
		Logger:          logger,
	}
}

func (o *Options) setDefaults() {
	d := config.Default().Repository
	if o.FetchBudget <= 0 {
		o.FetchBudget = d.FetchBudget
	}
	if o.FetchWorkers <= 0 {
		o.FetchWorkers = d.FetchWorkers
	}
	if o.DefaultPageSize <= 0 {
		o.DefaultPageSize = d.DefaultPageSize
	}
	if o.MaxPageSize <= 0 {
		o.MaxPageSize = d.MaxPageSize
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Page is one slice of submission summaries in index order.
type Page struct {
	Summaries []schema.Summary `json:"summaries"`
	Total     int              `json:"total"`
	Offset    int              `json:"offset"`
	Limit     int              `json:"limit"`
}

// Repository stores submissions as individual blobs with a derived index.
//
// The index is updated by read-modify-write without locking. Two concurrent
// saves can race and drop one appended id; the dropped record is still found
// by the scan tier and re-indexed by Reindex or IndexRecord.
type Repository struct {
	store    blob.Store
	lister   Lister
	migrator *Migrator
	opts     Options
	logger   *slog.Logger
	now      func() time.Time
}

// New returns a repository over store.
func New(store blob.Store, opts Options) *Repository {
	opts.setDefaults()
	return &Repository{
		store:    store,
		lister:   storeLister{store: store},
		migrator: NewMigrator(store, opts.Logger),
		opts:     opts,
		logger:   opts.Logger,
		now:      time.Now,
	}
}

// Save writes the submission body, then adds its id to the index.
// Only a failed body write is returned as an error (wrapping ErrSaveFailed);
// an index failure leaves an orphan record that the scan tier still finds.
func (r *Repository) Save(ctx context.Context, s *schema.Submission) error {
	if err := validateID(s.ID); err != nil {
		return err
	}
	if err := writeRecord(ctx, r.store, s); err != nil {
		metrics.SaveFailuresTotal.Inc()
		return fmt.Errorf("%w: %s: %w", ErrSaveFailed, s.ID, err)
	}
	metrics.SubmissionsSavedTotal.Inc()

	if err := r.addToIndex(ctx, s.ID); err != nil {
		metrics.IndexUpdateFailuresTotal.Inc()
		r.logger.Warn("index update failed; record remains discoverable by scan", "id", s.ID, "error", err)
	}
	return nil
}

// SaveMany writes every body, then updates the index once with the ids
// that were written. Body failures are joined into the returned error.
func (r *Repository) SaveMany(ctx context.Context, subs []schema.Submission) error {
	var (
		errs []error
		ids  []string
	)
	for i := range subs {
		s := &subs[i]
		if err := validateID(s.ID); err != nil {
			errs = append(errs, fmt.Errorf("%w: %q", err, s.ID))
			continue
		}
		if err := writeRecord(ctx, r.store, s); err != nil {
			metrics.SaveFailuresTotal.Inc()
			errs = append(errs, fmt.Errorf("%w: %s: %w", ErrSaveFailed, s.ID, err))
			continue
		}
		metrics.SubmissionsSavedTotal.Inc()
		ids = append(ids, s.ID)
	}

	if len(ids) > 0 {
		if err := r.addToIndex(ctx, ids...); err != nil {
			metrics.IndexUpdateFailuresTotal.Inc()
			r.logger.Warn("index update failed after batch save", "count", len(ids), "error", err)
		}
	}
	return errors.Join(errs...)
}

// LoadAll returns every readable submission, most recent first.
// Records that cannot be fetched or parsed within the fetch budget are
// logged and left out.
func (r *Repository) LoadAll(ctx context.Context) ([]schema.Submission, error) {
	start := time.Now()
	ids, err := r.orderedIDs(ctx)
	if err != nil {
		return nil, err
	}

	subs := r.fetchRecords(ctx, ids, r.opts.FetchBudget)
	sort.SliceStable(subs, func(i, j int) bool {
		if !subs[i].Timestamp.Equal(subs[j].Timestamp) {
			return subs[i].Timestamp.After(subs[j].Timestamp)
		}
		return subs[i].ID < subs[j].ID
	})
	metrics.LoadDuration.WithLabelValues("all").Observe(time.Since(start).Seconds())
	return subs, nil
}

// LoadPage returns summaries for ids[offset:offset+limit] in index order.
// Only records inside the window are fetched.
func (r *Repository) LoadPage(ctx context.Context, limit, offset int) (Page, error) {
	start := time.Now()
	ids, err := r.orderedIDs(ctx)
	if err != nil {
		return Page{}, err
	}

	if limit <= 0 {
		limit = r.opts.DefaultPageSize
	}
	if limit > r.opts.MaxPageSize {
		limit = r.opts.MaxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	page := Page{Summaries: []schema.Summary{}, Total: len(ids), Offset: offset, Limit: limit}
	if offset >= len(ids) {
		return page, nil
	}
	end := min(offset+limit, len(ids))

	for _, s := range r.fetchRecords(ctx, ids[offset:end], r.opts.FetchBudget) {
		page.Summaries = append(page.Summaries, s.Summarize())
	}
	metrics.LoadDuration.WithLabelValues("page").Observe(time.Since(start).Seconds())
	return page, nil
}

// LoadOne fetches a submission by id. It returns ErrNotFound when absent.
func (r *Repository) LoadOne(ctx context.Context, id string) (*schema.Submission, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	s, err := readRecord(ctx, r.store, id)
	if !errors.Is(err, ErrNotFound) {
		return s, err
	}

	// The record may still live only in the legacy blob.
	if _, found, ixErr := r.lister.ListViaIndex(ctx); ixErr != nil || found {
		return nil, ErrNotFound
	}
	res, mErr := r.migrator.Run(ctx)
	if mErr != nil || !res.Found {
		return nil, ErrNotFound
	}
	return readRecord(ctx, r.store, id)
}

// UpdateReimbursed sets the reimbursed flag and saves the submission.
func (r *Repository) UpdateReimbursed(ctx context.Context, id string, reimbursed bool) (*schema.Submission, error) {
	s, err := r.LoadOne(ctx, id)
	if err != nil {
		return nil, err
	}
	s.Reimbursed = reimbursed
	if err := r.Save(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// Delete removes a submission record, its receipts and its index entry.
// Receipt and index cleanup are best-effort.
func (r *Repository) Delete(ctx context.Context, id string) error {
	s, err := r.LoadOne(ctx, id)
	if err != nil {
		return err
	}
	if err := r.store.Delete(ctx, RecordKey(id)); err != nil {
		return fmt.Errorf("failed to delete submission %s: %w", id, err)
	}

	for _, item := range s.Items {
		for _, rc := range item.Receipts {
			if rc.StoragePath == "" {
				continue
			}
			if err := r.store.Delete(ctx, rc.StoragePath); err != nil {
				r.logger.Warn("failed to delete receipt", "id", id, "key", rc.StoragePath, "error", err)
			}
		}
	}

	if err := r.removeFromIndex(ctx, id); err != nil {
		r.logger.Warn("failed to remove submission from index", "id", id, "error", err)
	}
	return nil
}

// ReindexResult reports what Reindex changed.
type ReindexResult struct {
	Kept    int `json:"kept"`
	Added   int `json:"added"`
	Dropped int `json:"dropped"`
}

// Reindex rebuilds the index from a full scan. Existing order is kept for
// ids that still have records, orphans are appended oldest first, and ids
// without a record are dropped.
func (r *Repository) Reindex(ctx context.Context) (ReindexResult, error) {
	var res ReindexResult

	scanned, err := r.lister.ListViaScan(ctx)
	if err != nil {
		return res, err
	}
	present := make(map[string]struct{}, len(scanned))
	for _, id := range scanned {
		present[id] = struct{}{}
	}

	ix, _, err := readIndex(ctx, r.store)
	if err != nil {
		r.logger.Warn("rebuilding unreadable index", "error", err)
		ix = schema.Index{}
	}

	rebuilt := schema.Index{MigratedAt: ix.MigratedAt}
	for _, id := range ix.SubmissionIDs {
		if _, ok := present[id]; ok {
			rebuilt.Append(id)
		} else {
			res.Dropped++
		}
	}
	res.Kept = len(rebuilt.SubmissionIDs)

	var orphanIDs []string
	for _, id := range scanned {
		if !rebuilt.Contains(id) {
			orphanIDs = append(orphanIDs, id)
		}
	}
	// No budget here: maintenance runs to completion.
	orphans := r.fetchRecords(ctx, orphanIDs, 0)
	sort.SliceStable(orphans, func(i, j int) bool {
		return orphans[i].Timestamp.Before(orphans[j].Timestamp)
	})
	for _, s := range orphans {
		res.Added += rebuilt.Append(s.ID)
	}

	now := r.now().UTC()
	rebuilt.LastUpdated = &now
	if err := writeIndex(ctx, r.store, rebuilt); err != nil {
		return res, fmt.Errorf("failed to write rebuilt index: %w", err)
	}
	r.logger.Info("index rebuilt", "kept", res.Kept, "added", res.Added, "dropped", res.Dropped)
	return res, nil
}

// IndexRecord adds the record stored under key to the index. It reports
// false for keys that are not submission records.
func (r *Repository) IndexRecord(ctx context.Context, key string) (bool, error) {
	id, ok := IDFromKey(key)
	if !ok {
		return false, nil
	}
	if err := r.addToIndex(ctx, id); err != nil {
		metrics.IndexUpdateFailuresTotal.Inc()
		return true, err
	}
	return true, nil
}

// Migrate runs the legacy migration explicitly.
func (r *Repository) Migrate(ctx context.Context) (MigrationResult, error) {
	return r.migrator.Run(ctx)
}

// orderedIDs resolves the id list: index ids first, then orphans found by
// the scan. A missing index triggers the legacy migration once.
func (r *Repository) orderedIDs(ctx context.Context) ([]string, error) {
	indexed, found, err := r.lister.ListViaIndex(ctx)
	if err != nil {
		r.logger.Warn("index unreadable, falling back to scan", "error", err)
	}

	if !found && err == nil {
		res, mErr := r.migrator.Run(ctx)
		if mErr != nil {
			r.logger.Warn("legacy migration failed", "error", mErr)
		}
		if res.Found && mErr == nil {
			indexed, found, err = r.lister.ListViaIndex(ctx)
			if err != nil {
				r.logger.Warn("index unreadable after migration", "error", err)
			}
		}
	}

	scanned, scanErr := r.lister.ListViaScan(ctx)
	if scanErr != nil {
		if !found || err != nil {
			return nil, scanErr
		}
		r.logger.Warn("scan failed, using index only", "error", scanErr)
	}

	ids, orphans := mergeIDs(indexed, scanned)
	if orphans > 0 && found {
		r.logger.Info("found records missing from index", "count", orphans)
	}
	return ids, nil
}

// fetchRecords loads ids concurrently and returns the readable ones in input
// order. With a positive budget, no fetch is started once the budget is spent
// and in-flight fetches are cancelled.
func (r *Repository) fetchRecords(ctx context.Context, ids []string, budget time.Duration) []schema.Submission {
	if len(ids) == 0 {
		return []schema.Submission{}
	}
	if budget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, budget)
		defer cancel()
	}

	results := make([]*schema.Submission, len(ids))
	var g errgroup.Group
	g.SetLimit(r.opts.FetchWorkers)

	for i, id := range ids {
		if ctx.Err() != nil {
			remaining := len(ids) - i
			metrics.RecordsSkippedTotal.WithLabelValues("budget").Add(float64(remaining))
			r.logger.Warn("fetch budget exhausted, returning partial results", "skipped", remaining)
			break
		}
		g.Go(func() error {
			s, err := readRecord(ctx, r.store, id)
			if err != nil {
				r.skip(id, err)
				return nil
			}
			results[i] = s
			return nil
		})
	}
	g.Wait()

	out := make([]schema.Submission, 0, len(ids))
	for _, s := range results {
		if s != nil {
			out = append(out, *s)
		}
	}
	return out
}

func (r *Repository) skip(id string, err error) {
	reason := "fetch_error"
	switch {
	case errors.Is(err, ErrNotFound):
		reason = "missing"
	case errors.Is(err, errMalformed):
		reason = "malformed"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		reason = "budget"
	}
	metrics.RecordsSkippedTotal.WithLabelValues(reason).Inc()
	r.logger.Warn("skipping submission", "id", id, "reason", reason, "error", err)
}

// addToIndex appends ids to the index, creating it when absent.
// A pending legacy migration runs first so its ids keep their place ahead of
// new ones. An unreadable index is rebuilt from a scan before appending.
func (r *Repository) addToIndex(ctx context.Context, ids ...string) error {
	ix, found, err := readIndex(ctx, r.store)
	if err == nil && !found {
		if res, mErr := r.migrator.Run(ctx); mErr != nil {
			r.logger.Warn("legacy migration failed", "error", mErr)
		} else if res.Found {
			ix, found, err = readIndex(ctx, r.store)
		}
	}
	if err != nil {
		if !errors.Is(err, errMalformed) {
			return err
		}
		r.logger.Warn("index unreadable, rebuilding from scan", "error", err)
		scanned, scanErr := r.lister.ListViaScan(ctx)
		if scanErr != nil {
			return scanErr
		}
		ix = schema.Index{}
		ix.Append(scanned...)
		found = false
	}

	if ix.Append(ids...) == 0 && found {
		return nil
	}
	now := r.now().UTC()
	ix.LastUpdated = &now
	return writeIndex(ctx, r.store, ix)
}

func (r *Repository) removeFromIndex(ctx context.Context, id string) error {
	ix, found, err := readIndex(ctx, r.store)
	if err != nil || !found {
		return err
	}
	if !ix.Remove(id) {
		return nil
	}
	now := r.now().UTC()
	ix.LastUpdated = &now
	return writeIndex(ctx, r.store, ix)
}
