// Package intake turns a submitted expense form into a stored submission.
package intake

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/celerix-dev/celerix-expenses/internal/metrics"
	"github.com/celerix-dev/celerix-expenses/internal/notify"
	"github.com/celerix-dev/celerix-expenses/pkg/blob"
	"github.com/celerix-dev/celerix-expenses/pkg/schema"
)

// Request is the submission form payload.
type Request struct {
	Name          string          `json:"name" binding:"required"`
	Position      string          `json:"position"`
	Email         string          `json:"email" binding:"required,email"`
	Phone         string          `json:"phone"`
	Date          string          `json:"date"`
	Officers      string          `json:"officers"`
	Items         []ItemRequest   `json:"items" binding:"dive"`
	Signature     string          `json:"signature"`
	SignatureDate string          `json:"signatureDate"`
	Total         json.RawMessage `json:"total,omitempty"` // used only when it is a JSON number
}

// ItemRequest is one expense line with receipts still encoded as data URLs.
type ItemRequest struct {
	Description string          `json:"description"`
	BudgetLine  string          `json:"budgetLine"`
	Amount      string          `json:"amount"`
	Notes       string          `json:"notes"`
	Receipts    []ReceiptUpload `json:"receipts"`
}

// UnmarshalJSON accepts an amount given as a string or a bare number.
func (r *ItemRequest) UnmarshalJSON(data []byte) error {
	type plain ItemRequest
	aux := struct {
		*plain
		Amount json.RawMessage `json:"amount"`
	}{plain: (*plain)(r)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	r.Amount = schema.AmountText(aux.Amount)
	return nil
}

// ReceiptUpload is a receipt image as sent by the form.
type ReceiptUpload struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Data string `json:"data"` // data URL
}

// FailedReceipt identifies a receipt that could not be stored.
type FailedReceipt struct {
	Item   int    `json:"item"`
	Index  int    `json:"index"`
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// Result is returned for an accepted submission. Failed receipts are soft
// warnings: the submission itself was saved.
type Result struct {
	ID             string          `json:"id"`
	Timestamp      time.Time       `json:"timestamp"`
	Total          string          `json:"total"`
	FailedReceipts []FailedReceipt `json:"failedReceipts,omitempty"`

	Submission *schema.Submission `json:"-"`
}

// Saver persists a submission.
type Saver interface {
	Save(ctx context.Context, s *schema.Submission) error
}

// Options configures a Service.
type Options struct {
	MaxReceiptBytes int64
	UploadWorkers   int
	NotifyTimeout   time.Duration
	Logger          *slog.Logger
}

// Service runs the submit workflow.
type Service struct {
	repo     Saver
	blobs    blob.Putter
	notifier notify.Notifier
	opts     Options
	logger   *slog.Logger

	newID func() string
	now   func() time.Time
	wg    sync.WaitGroup
}

// NewService wires the workflow. A nil notifier disables notifications.
func NewService(repo Saver, blobs blob.Putter, notifier notify.Notifier, opts Options) *Service {
	if notifier == nil {
		notifier = notify.Noop{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.UploadWorkers <= 0 {
		opts.UploadWorkers = 4
	}
	if opts.NotifyTimeout <= 0 {
		opts.NotifyTimeout = time.Minute
	}
	return &Service{
		repo:     repo,
		blobs:    blobs,
		notifier: notifier,
		opts:     opts,
		logger:   opts.Logger,
		newID:    func() string { return uuid.NewString() },
		now:      time.Now,
	}
}

// Wait blocks until background notifications have finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

// Submit assigns an id and timestamp, uploads receipts, saves the submission
// and schedules notifications. Only a failed save is returned as an error.
func (s *Service) Submit(ctx context.Context, req Request) (*Result, error) {
	id := s.newID()
	sub := &schema.Submission{
		ID:            id,
		Timestamp:     s.now().UTC(),
		Name:          strings.TrimSpace(req.Name),
		Position:      req.Position,
		Email:         strings.TrimSpace(req.Email),
		Phone:         req.Phone,
		Date:          req.Date,
		Officers:      req.Officers,
		Signature:     req.Signature,
		SignatureDate: req.SignatureDate,
		Total:         schema.NumericTotal(req.Total),
		Items:         make([]schema.ExpenseItem, len(req.Items)),
	}

	failed := s.uploadReceipts(ctx, id, req.Items, sub.Items)

	if err := s.repo.Save(ctx, sub); err != nil {
		return nil, err
	}
	s.logger.Info("submission saved", "id", id, "items", len(sub.Items), "failed_receipts", len(failed))

	s.notifyAsync(sub)

	return &Result{
		ID:             id,
		Timestamp:      sub.Timestamp,
		Total:          sub.ComputedTotal().StringFixed(2),
		FailedReceipts: failed,
		Submission:     sub,
	}, nil
}

// uploadReceipts fills items from reqs. Items upload concurrently; receipts
// within an item upload in order.
func (s *Service) uploadReceipts(ctx context.Context, id string, reqs []ItemRequest, items []schema.ExpenseItem) []FailedReceipt {
	perItem := make([][]FailedReceipt, len(reqs))

	var g errgroup.Group
	g.SetLimit(s.opts.UploadWorkers)
	for i, r := range reqs {
		items[i] = schema.ExpenseItem{
			Description: r.Description,
			BudgetLine:  r.BudgetLine,
			Amount:      r.Amount,
			Notes:       r.Notes,
			Receipts:    []schema.Receipt{},
		}
		g.Go(func() error {
			for j, up := range r.Receipts {
				rc, err := s.uploadReceipt(ctx, id, i, j, up)
				if err != nil {
					metrics.ReceiptUploadsTotal.WithLabelValues("failed").Inc()
					s.logger.Warn("receipt upload failed", "id", id, "item", i, "receipt", j, "error", err)
					perItem[i] = append(perItem[i], FailedReceipt{Item: i, Index: j, Name: up.Name, Reason: err.Error()})
					continue
				}
				metrics.ReceiptUploadsTotal.WithLabelValues("ok").Inc()
				items[i].Receipts = append(items[i].Receipts, rc)
			}
			return nil
		})
	}
	g.Wait()

	var failed []FailedReceipt
	for _, f := range perItem {
		failed = append(failed, f...)
	}
	return failed
}

func (s *Service) uploadReceipt(ctx context.Context, id string, i, j int, up ReceiptUpload) (schema.Receipt, error) {
	mediaType, data, err := schema.ParseDataURL(up.Data)
	if err != nil {
		return schema.Receipt{}, fmt.Errorf("no receipt data: %w", err)
	}
	if s.opts.MaxReceiptBytes > 0 && int64(len(data)) > s.opts.MaxReceiptBytes {
		return schema.Receipt{}, fmt.Errorf("receipt is %d bytes, limit is %d", len(data), s.opts.MaxReceiptBytes)
	}

	contentType := up.Type
	if contentType == "" {
		contentType = mediaType
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	key := ReceiptKey(id, i, j, up.Name)
	b, err := s.blobs.Put(ctx, key, data, contentType)
	if err != nil {
		return schema.Receipt{}, err
	}
	return schema.Receipt{
		OriginalName: up.Name,
		ContentType:  contentType,
		StorageURL:   b.URL,
		StoragePath:  b.Pathname,
	}, nil
}

// ReceiptKey names the blob for receipt j of item i.
func ReceiptKey(id string, i, j int, name string) string {
	name = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\':
			return '_'
		}
		return r
	}, strings.TrimSpace(name))
	if name == "" || name == "." || name == ".." {
		name = "receipt"
	}
	return fmt.Sprintf("%s_%d_%d_%s", id, i, j, name)
}

func (s *Service) notifyAsync(sub *schema.Submission) {
	snapshot := *sub
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.opts.NotifyTimeout)
		defer cancel()
		if err := s.notifier.SubmissionReceived(ctx, &snapshot); err != nil {
			s.logger.Warn("notifications incomplete", "id", snapshot.ID, "error", err)
		}
	}()
}
