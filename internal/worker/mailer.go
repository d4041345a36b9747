package worker

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/nimbushq/backend/config"
	"github.com/nimbushq/backend/internal/models"
	"github.com/nimbushq/backend/pkg/queue"
)

// Mailer sends transactional mail over SMTP and records each attempt in
// email_logs. With no SMTP host configured it logs and records the mail
// as sent, which keeps local development working without a mail server.
type Mailer struct {
	cfg    config.EmailConfig
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewMailer creates the SMTP mailer.
func NewMailer(cfg config.EmailConfig, pool *pgxpool.Pool, logger *zap.Logger) *Mailer {
	return &Mailer{cfg: cfg, pool: pool, logger: logger}
}

// Send delivers one email job payload.
func (m *Mailer) Send(ctx context.Context, p queue.EmailPayload) error {
	logID, err := m.logAttempt(ctx, p)
	if err != nil {
		return fmt.Errorf("log email: %w", err)
	}

	if m.cfg.SMTPHost == "" {
		m.logger.Info("smtp not configured, skipping send",
			zap.String("to", p.RecipientEmail), zap.String("type", p.EmailType))
		return m.markSent(ctx, logID)
	}

	msg := m.buildMessage(p)
	addr := fmt.Sprintf("%s:%d", m.cfg.SMTPHost, m.cfg.SMTPPort)
	var auth smtp.Auth
	if m.cfg.SMTPUser != "" {
		auth = smtp.PlainAuth("", m.cfg.SMTPUser, m.cfg.SMTPPass, m.cfg.SMTPHost)
	}
	if err := smtp.SendMail(addr, auth, m.cfg.FromAddress, []string{p.RecipientEmail}, msg); err != nil {
		if markErr := m.markFailed(ctx, logID, err.Error()); markErr != nil {
			m.logger.Warn("mark email failed errored", zap.Error(markErr))
		}
		return fmt.Errorf("smtp send: %w", err)
	}
	return m.markSent(ctx, logID)
}

func (m *Mailer) buildMessage(p queue.EmailPayload) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s <%s>\r\n", m.cfg.FromName, m.cfg.FromAddress)
	fmt.Fprintf(&b, "To: %s\r\n", p.RecipientEmail)
	fmt.Fprintf(&b, "Subject: %s\r\n", p.Subject)
	b.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")
	b.WriteString(p.BodyText)
	return []byte(b.String())
}

func (m *Mailer) logAttempt(ctx context.Context, p queue.EmailPayload) (string, error) {
	var id string
	err := m.pool.QueryRow(ctx, `INSERT INTO email_logs (organization_id, email_type, recipient_email, subject, status)
		VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		p.OrganizationID, p.EmailType, p.RecipientEmail, p.Subject, models.EmailLogStatusPending).Scan(&id)
	return id, err
}

func (m *Mailer) markSent(ctx context.Context, logID string) error {
	_, err := m.pool.Exec(ctx, `UPDATE email_logs SET status = $2, sent_at = NOW() WHERE id = $1`,
		logID, models.EmailLogStatusSent)
	return err
}

func (m *Mailer) markFailed(ctx context.Context, logID, msg string) error {
	_, err := m.pool.Exec(ctx, `UPDATE email_logs SET status = $2, error_message = $3 WHERE id = $1`,
		logID, models.EmailLogStatusFailed, msg)
	return err
}
