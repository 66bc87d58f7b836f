package service

import (
	"context"
	"fmt"
	"html"
	"strings"

	"klubban/internal/entity"
	"klubban/internal/metrics"
	"klubban/internal/repository"
	"klubban/internal/utils"

	"github.com/sirupsen/logrus"
)

type NotificationKind string

const (
	NotifyVerification    NotificationKind = "verification"
	NotifyApproval        NotificationKind = "approval"
	NotifyRejection       NotificationKind = "rejection"
	NotifyPendingApproval NotificationKind = "pending_approval"
)

type Notification struct {
	Kind   NotificationKind
	User   *entity.User
	Token  string
	Reason *string
}

// Notifier is the only delivery capability the account lifecycle depends on.
// It reports whether the notification went out; it never fails the caller.
type Notifier interface {
	Notify(ctx context.Context, n Notification) bool
}

const siteName = "Klubbans Vanner"

type EmailNotifier struct {
	mailer  Mailer
	users   repository.UserRepository
	siteURL string
	logger  *logrus.Logger
}

func NewEmailNotifier(mailer Mailer, users repository.UserRepository, siteURL string, logger *logrus.Logger) *EmailNotifier {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &EmailNotifier{
		mailer:  mailer,
		users:   users,
		siteURL: strings.TrimRight(siteURL, "/"),
		logger:  logger,
	}
}

func (n *EmailNotifier) Notify(ctx context.Context, note Notification) bool {
	if note.User == nil {
		return false
	}
	var ok bool
	switch note.Kind {
	case NotifyVerification:
		ok = n.sendVerification(ctx, note.User, note.Token)
	case NotifyApproval:
		ok = n.sendApproval(ctx, note.User)
	case NotifyRejection:
		ok = n.sendRejection(ctx, note.User, note.Reason)
	case NotifyPendingApproval:
		ok = n.sendPendingToAdmins(ctx, note.User)
	default:
		n.logger.WithField("kind", note.Kind).Warn("unknown notification kind")
	}
	status := "sent"
	if !ok {
		status = "skipped"
	}
	metrics.Notifications.WithLabelValues(string(note.Kind), status).Inc()
	return ok
}

func (n *EmailNotifier) sendVerification(ctx context.Context, user *entity.User, token string) bool {
	link := n.url("/auth/verify-email?token=" + token)
	subject := "Verifiera din e-postadress - " + siteName
	text := fmt.Sprintf("Hej %s!\n\nBekrafta din e-postadress genom att oppna lanken:\n%s\n", user.Name(), link)
	body := fmt.Sprintf("<p>Hej %s!</p><p>Bekrafta din e-postadress:</p><p><a href=\"%s\">Verifiera e-post</a></p>",
		html.EscapeString(user.Name()), html.EscapeString(link))
	return n.send(ctx, subject, user.Email, text, body)
}

func (n *EmailNotifier) sendApproval(ctx context.Context, user *entity.User) bool {
	link := n.url("/auth/login")
	subject := "Ditt konto har godkants! - " + siteName
	text := fmt.Sprintf("Hej %s!\n\nDitt konto har godkants. Logga in har:\n%s\n", user.Name(), link)
	body := fmt.Sprintf("<p>Hej %s!</p><p>Ditt konto har godkants.</p><p><a href=\"%s\">Logga in</a></p>",
		html.EscapeString(user.Name()), html.EscapeString(link))
	return n.send(ctx, subject, user.Email, text, body)
}

func (n *EmailNotifier) sendRejection(ctx context.Context, user *entity.User, reason *string) bool {
	subject := "Angaende ditt konto - " + siteName
	text := fmt.Sprintf("Hej %s!\n\nDin ansokan om medlemskap har tyvarr inte godkants.\n", user.Name())
	body := fmt.Sprintf("<p>Hej %s!</p><p>Din ansokan om medlemskap har tyvarr inte godkants.</p>", html.EscapeString(user.Name()))
	if reason != nil && strings.TrimSpace(*reason) != "" {
		text += fmt.Sprintf("\nAnledning: %s\n", *reason)
		body += fmt.Sprintf("<p>Anledning: %s</p>", html.EscapeString(*reason))
	}
	return n.send(ctx, subject, user.Email, text, body)
}

func (n *EmailNotifier) sendPendingToAdmins(ctx context.Context, user *entity.User) bool {
	admins, err := n.users.ListByRoles(ctx, entity.UserRoleAdmin, entity.UserRoleModerator)
	if err != nil {
		n.logger.WithError(err).Error("failed to load admins for pending approval notice")
		return false
	}
	if len(admins) == 0 {
		n.logger.WithField("user_id", user.ID).Warn("no admins to notify about pending approval")
		return false
	}

	link := n.url("/admin/approvals")
	subject := "Ny medlem vantar pa godkannande: " + user.Name()
	sent := false
	for _, admin := range admins {
		text := fmt.Sprintf("Hej %s!\n\n%s (%s) vantar pa godkannande.\n%s\n", admin.Name(), user.Name(), user.Username, link)
		body := fmt.Sprintf("<p>Hej %s!</p><p>%s (%s) vantar pa godkannande.</p><p><a href=\"%s\">Granska ansokningar</a></p>",
			html.EscapeString(admin.Name()), html.EscapeString(user.Name()), html.EscapeString(user.Username), html.EscapeString(link))
		if n.send(ctx, subject, admin.Email, text, body) {
			sent = true
		}
	}
	return sent
}

func (n *EmailNotifier) send(ctx context.Context, subject, recipient, text, body string) bool {
	if utils.IsPlaceholderEmail(recipient) {
		n.logger.WithField("to", recipient).Debug("skipping placeholder address")
		return false
	}
	if err := n.mailer.Send(ctx, subject, recipient, text, body); err != nil {
		n.logger.WithError(err).WithFields(logrus.Fields{
			"to":      recipient,
			"subject": subject,
		}).Error("failed to send email")
		return false
	}
	return true
}

func (n *EmailNotifier) url(path string) string {
	return n.siteURL + path
}
