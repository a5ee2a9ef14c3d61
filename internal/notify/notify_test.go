package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/wneessen/go-mail"

	"github.com/celerix-dev/celerix-expenses/internal/config"
	"github.com/celerix-dev/celerix-expenses/pkg/schema"
)

type fakeSender struct {
	mu     sync.Mutex
	sent   []*mail.Msg
	failTo string
}

func (f *fakeSender) DialAndSendWithContext(_ context.Context, msgs ...*mail.Msg) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range msgs {
		rcpts, _ := m.GetRecipients()
		if len(rcpts) > 0 && rcpts[0] == f.failTo {
			return errors.New("550 mailbox unavailable")
		}
		f.sent = append(f.sent, m)
	}
	return nil
}

func testSubmission() *schema.Submission {
	return &schema.Submission{
		ID:        "abc",
		Timestamp: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
		Name:      "Ada <Lovelace>",
		Email:     "ada@example.org",
		Date:      "2024-02-28",
		Items:     []schema.ExpenseItem{{Amount: "10.50"}, {Amount: "5"}},
	}
}

func testMailer(sender Sender) *Mailer {
	return NewMailer(sender, config.MailConfig{
		From:            "expenses@example.org",
		AdminRecipients: []string{"vp@example.org", "finance@example.org"},
		Organization:    "Celerix",
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestSubmissionReceivedSendsToEveryone(t *testing.T) {
	sender := &fakeSender{}
	if err := testMailer(sender).SubmissionReceived(context.Background(), testSubmission()); err != nil {
		t.Fatalf("SubmissionReceived failed: %v", err)
	}
	if len(sender.sent) != 3 {
		t.Fatalf("Expected 3 messages, got %d", len(sender.sent))
	}

	rcpts, _ := sender.sent[0].GetRecipients()
	if rcpts[0] != "ada@example.org" {
		t.Errorf("Expected confirmation to the claimant first, got %v", rcpts)
	}
	if subj := sender.sent[0].GetGenHeader(mail.HeaderSubject); len(subj) == 0 || !strings.Contains(subj[0], "Confirmation") {
		t.Errorf("Unexpected subject %v", subj)
	}
	if subj := sender.sent[1].GetGenHeader(mail.HeaderSubject); len(subj) == 0 || !strings.Contains(subj[0], "Review Required") {
		t.Errorf("Unexpected admin subject %v", subj)
	}
}

func TestSubmissionReceivedContinuesAfterFailure(t *testing.T) {
	sender := &fakeSender{failTo: "vp@example.org"}
	err := testMailer(sender).SubmissionReceived(context.Background(), testSubmission())
	if err == nil {
		t.Fatal("Expected the failed recipient to be reported")
	}
	if len(sender.sent) != 2 {
		t.Errorf("Expected remaining recipients to be mailed, got %d", len(sender.sent))
	}
}

func TestTemplatesRenderTotalsAndEscape(t *testing.T) {
	m := testMailer(&fakeSender{})
	data := m.templateData(testSubmission())

	body, err := render(adminTmpl, data)
	if err != nil {
		t.Fatalf("render failed: %v", err)
	}
	if !strings.Contains(body, "$15.50") {
		t.Errorf("Expected derived total in body:\n%s", body)
	}
	if !strings.Contains(body, "Ada &lt;Lovelace&gt;") {
		t.Errorf("Expected claimant name to be escaped:\n%s", body)
	}
	if !strings.Contains(body, "<strong>Phone:</strong> N/A") {
		t.Errorf("Expected N/A for missing phone:\n%s", body)
	}

	body, _ = render(submitterTmpl, data)
	if !strings.Contains(body, "March 1, 2024") || !strings.Contains(body, "expenses@example.org") {
		t.Errorf("Unexpected confirmation body:\n%s", body)
	}
}

func TestNewWithoutSMTPIsNoop(t *testing.T) {
	n, err := New(config.Default(), nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, ok := n.(Noop); !ok {
		t.Errorf("Expected Noop notifier, got %T", n)
	}
}
