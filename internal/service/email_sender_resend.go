package service

import (
	"context"
	"errors"
	"strings"

	"github.com/resend/resend-go/v2"
	"github.com/sirupsen/logrus"
)

// Mailer delivers one rendered message to one recipient.
type Mailer interface {
	Send(ctx context.Context, subject, recipient, textBody, htmlBody string) error
}

type ResendMailer struct {
	client *resend.Client
	from   string
}

func NewResendMailer(apiKey string, from string) (*ResendMailer, error) {
	if strings.TrimSpace(apiKey) == "" || strings.TrimSpace(from) == "" {
		return nil, errors.New("resend mailer requires api key and from address")
	}
	return &ResendMailer{
		client: resend.NewClient(apiKey),
		from:   from,
	}, nil
}

func (m *ResendMailer) Send(ctx context.Context, subject, recipient, textBody, htmlBody string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := m.client.Emails.Send(&resend.SendEmailRequest{
		From:    m.from,
		To:      []string{recipient},
		Subject: subject,
		Html:    htmlBody,
		Text:    textBody,
	})
	return err
}

// ConsoleMailer logs messages instead of sending them. Used when no email
// provider is configured.
type ConsoleMailer struct {
	Logger *logrus.Logger
}

func (m ConsoleMailer) Send(_ context.Context, subject, recipient, textBody, _ string) error {
	logger := m.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	logger.WithFields(logrus.Fields{
		"to":      recipient,
		"subject": subject,
	}).Info(textBody)
	return nil
}
