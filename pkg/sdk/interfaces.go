package sdk

import (
	"context"
	"errors"

	"github.com/celerix-dev/celerix-expenses/internal/engine"
	"github.com/celerix-dev/celerix-expenses/pkg/schema"
)

var (
	// ErrNotFound is returned when the requested submission does not exist.
	ErrNotFound = errors.New("submission not found")
	// ErrUnauthorized is returned when the session is missing, expired or rejected.
	ErrUnauthorized = errors.New("unauthorized")
)

// --- Functional Interfaces (Interface Segregation) ---

// Session manages the admin cookie.
type Session interface {
	Login(ctx context.Context, password string) error
	Logout(ctx context.Context) error
}

// SubmissionReader lists and fetches submissions.
type SubmissionReader interface {
	List(ctx context.Context, q engine.Query) (engine.Listing, error)
	Summaries(ctx context.Context, limit, offset int) (engine.Page, error)
	Get(ctx context.Context, id string) (*schema.Submission, error)
}

// SubmissionWriter changes or removes submissions.
type SubmissionWriter interface {
	SetReimbursed(ctx context.Context, id string, reimbursed bool) error
	Delete(ctx context.Context, id string) error
}

// ReportExporter downloads rendered reports.
type ReportExporter interface {
	PDF(ctx context.Context, id string) ([]byte, error)
}

// Maintainer triggers index maintenance on the daemon.
type Maintainer interface {
	Reindex(ctx context.Context) (engine.ReindexResult, error)
	Migrate(ctx context.Context) (engine.MigrationResult, error)
}

// --- Composite Interfaces ---

// Admin is the complete admin client.
type Admin interface {
	Session
	SubmissionReader
	SubmissionWriter
	ReportExporter
	Maintainer

	Health(ctx context.Context) (int, error)
}
