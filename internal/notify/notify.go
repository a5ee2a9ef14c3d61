// Package notify sends the email notifications that follow a submission.
package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"time"

	"github.com/wneessen/go-mail"

	"github.com/celerix-dev/celerix-expenses/internal/config"
	"github.com/celerix-dev/celerix-expenses/internal/metrics"
	"github.com/celerix-dev/celerix-expenses/pkg/schema"
)

// Notifier is told about every accepted submission.
type Notifier interface {
	SubmissionReceived(ctx context.Context, s *schema.Submission) error
}

// Noop discards notifications. It is used when SMTP is not configured.
type Noop struct{}

func (Noop) SubmissionReceived(context.Context, *schema.Submission) error { return nil }

// Sender delivers prepared messages. *mail.Client satisfies it.
type Sender interface {
	DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error
}

// Mailer emails a confirmation to the claimant and a review request to each
// admin recipient.
type Mailer struct {
	sender  Sender
	from    string
	admins  []string
	contact string
	org     string
	logger  *slog.Logger
}

// New returns a Mailer for cfg, or Noop when mail is not configured.
func New(cfg config.Config, logger *slog.Logger) (Notifier, error) {
	if !cfg.MailEnabled() {
		return Noop{}, nil
	}
	mc := cfg.Mail
	opts := []mail.Option{
		mail.WithPort(mc.Port),
		mail.WithTLSPortPolicy(mail.TLSOpportunistic),
		mail.WithTimeout(15 * time.Second),
	}
	if mc.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(mc.Username),
			mail.WithPassword(mc.Password),
		)
	}
	client, err := mail.NewClient(mc.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("notify: smtp client: %w", err)
	}
	return NewMailer(client, mc, logger), nil
}

// NewMailer returns a Mailer delivering through sender.
func NewMailer(sender Sender, mc config.MailConfig, logger *slog.Logger) *Mailer {
	if logger == nil {
		logger = slog.Default()
	}
	contact := mc.ContactAddress
	if contact == "" {
		contact = mc.From
	}
	return &Mailer{
		sender:  sender,
		from:    mc.From,
		admins:  mc.AdminRecipients,
		contact: contact,
		org:     mc.Organization,
		logger:  logger,
	}
}

// SubmissionReceived sends one message per recipient. Every failure is
// logged; the joined error is returned for the caller to record.
func (m *Mailer) SubmissionReceived(ctx context.Context, s *schema.Submission) error {
	data := m.templateData(s)
	var errs []error

	if s.Email != "" {
		if err := m.send(ctx, "submitter", s.Email, "Expense Report Submitted - Confirmation", submitterTmpl, data); err != nil {
			errs = append(errs, err)
		}
	}
	for _, to := range m.admins {
		if err := m.send(ctx, "admin", to, "New Expense Report Submitted - Review Required", adminTmpl, data); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Mailer) send(ctx context.Context, kind, to, subject string, tmpl *template.Template, data templateData) error {
	msg, err := m.message(to, subject, tmpl, data)
	if err == nil {
		err = m.sender.DialAndSendWithContext(ctx, msg)
	}
	if err != nil {
		metrics.NotificationsTotal.WithLabelValues(kind, "error").Inc()
		m.logger.Warn("failed to send notification", "id", data.ID, "kind", kind, "to", to, "error", err)
		return fmt.Errorf("notify %s: %w", to, err)
	}
	metrics.NotificationsTotal.WithLabelValues(kind, "sent").Inc()
	return nil
}

func (m *Mailer) message(to, subject string, tmpl *template.Template, data templateData) (*mail.Msg, error) {
	body, err := render(tmpl, data)
	if err != nil {
		return nil, err
	}
	msg := mail.NewMsg()
	if err := msg.From(m.from); err != nil {
		return nil, err
	}
	if err := msg.To(to); err != nil {
		return nil, err
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextHTML, body)
	return msg, nil
}

type templateData struct {
	ID           string
	Name         string
	Email        string
	Phone        string
	Total        string
	SubmittedOn  string
	InvoiceDate  string
	Budget       string
	Contact      string
	Organization string
}

func (m *Mailer) templateData(s *schema.Submission) templateData {
	submitted := s.Timestamp
	if submitted.IsZero() {
		submitted = time.Now()
	}
	return templateData{
		ID:           s.ID,
		Name:         s.Name,
		Email:        s.Email,
		Phone:        orNA(s.Phone),
		Total:        s.ComputedTotal().StringFixed(2),
		SubmittedOn:  submitted.Format("January 2, 2006"),
		InvoiceDate:  orNA(s.Date),
		Budget:       orNA(s.Officers),
		Contact:      m.contact,
		Organization: m.org,
	}
}

func orNA(v string) string {
	if v == "" {
		return "N/A"
	}
	return v
}

func render(tmpl *template.Template, data templateData) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

var submitterTmpl = template.Must(template.New("submitter").Parse(`
<h2>Expense Report Submitted Successfully</h2>
<p>Dear {{.Name}},</p>
<p>Your expense report has been submitted successfully and will be reviewed by the {{.Organization}} finance team.</p>
<p><strong>Submission Details:</strong></p>
<ul>
  <li><strong>Total Amount:</strong> ${{.Total}}</li>
  <li><strong>Submission Date:</strong> {{.SubmittedOn}}</li>
  <li><strong>Invoice Date:</strong> {{.InvoiceDate}}</li>
</ul>
<p>You will receive a confirmation email once your expense report has been reviewed and approved.</p>
{{if .Contact}}<p>If you have any questions, please contact {{.Contact}}</p>{{end}}
`))

var adminTmpl = template.Must(template.New("admin").Parse(`
<h2>New Expense Report Submitted</h2>
<p>A new expense report has been submitted and requires review:</p>
<p><strong>Submitter:</strong> {{.Name}}</p>
<p><strong>Email:</strong> {{.Email}}</p>
<p><strong>Phone:</strong> {{.Phone}}</p>
<p><strong>Total Amount:</strong> ${{.Total}}</p>
<p><strong>Submission Date:</strong> {{.SubmittedOn}}</p>
<p><strong>Invoice Date:</strong> {{.InvoiceDate}}</p>
<p><strong>Budget:</strong> {{.Budget}}</p>
`))
