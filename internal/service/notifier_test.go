package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"klubban/internal/entity"
	"klubban/internal/utils"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type mockMailer struct {
	mock.Mock
}

func (m *mockMailer) Send(ctx context.Context, subject, recipient, textBody, htmlBody string) error {
	args := m.Called(ctx, subject, recipient, textBody, htmlBody)
	return args.Error(0)
}

func newTestNotifier(env *testEnv, mailer Mailer) *EmailNotifier {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return NewEmailNotifier(mailer, memUsers{env.store}, "https://klubban.test/", logger)
}

func TestNotifyVerificationLinksToken(t *testing.T) {
	env := newTestEnv(t)
	mailer := &mockMailer{}
	notifier := newTestNotifier(env, mailer)
	user := env.seedUser(t, "anna", entity.UserStatePendingEmailVerification, entity.UserRoleUser)

	mailer.On("Send", mock.Anything, mock.Anything, "anna@example.com",
		mock.MatchedBy(func(text string) bool {
			return strings.Contains(text, "https://klubban.test/auth/verify-email?token=raw-token")
		}), mock.Anything).Return(nil).Once()

	sent := notifier.Notify(context.Background(), Notification{Kind: NotifyVerification, User: user, Token: "raw-token"})
	assert.True(t, sent)
	mailer.AssertExpectations(t)
}

func TestNotifyRejectionIncludesEscapedReason(t *testing.T) {
	env := newTestEnv(t)
	mailer := &mockMailer{}
	notifier := newTestNotifier(env, mailer)
	user := env.seedUser(t, "anna", entity.UserStateRejected, entity.UserRoleUser)
	reason := "<b>not a member</b>"

	mailer.On("Send", mock.Anything, mock.Anything, "anna@example.com",
		mock.MatchedBy(func(text string) bool { return strings.Contains(text, reason) }),
		mock.MatchedBy(func(body string) bool { return strings.Contains(body, "&lt;b&gt;not a member&lt;/b&gt;") }),
	).Return(nil).Once()

	assert.True(t, notifier.Notify(context.Background(), Notification{Kind: NotifyRejection, User: user, Reason: &reason}))
	mailer.AssertExpectations(t)
}

func TestNotifySkipsPlaceholderAddress(t *testing.T) {
	env := newTestEnv(t)
	mailer := &mockMailer{}
	notifier := newTestNotifier(env, mailer)
	user := &entity.User{Username: "annab", Email: utils.PlaceholderEmail(1001)}

	sent := notifier.Notify(context.Background(), Notification{Kind: NotifyApproval, User: user})
	assert.False(t, sent)
	mailer.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestNotifyPendingApprovalGoesToAdminsAndModerators(t *testing.T) {
	env := newTestEnv(t)
	mailer := &mockMailer{}
	notifier := newTestNotifier(env, mailer)

	env.seedUser(t, "admin", entity.UserStateActive, entity.UserRoleAdmin)
	env.seedUser(t, "moderator", entity.UserStateActive, entity.UserRoleModerator)
	env.seedUser(t, "member", entity.UserStateActive, entity.UserRoleUser)
	applicant := env.seedUser(t, "anna", entity.UserStatePendingApproval, entity.UserRoleUser)

	mailer.On("Send", mock.Anything, mock.Anything, "admin@example.com", mock.Anything, mock.Anything).Return(nil).Once()
	mailer.On("Send", mock.Anything, mock.Anything, "moderator@example.com", mock.Anything, mock.Anything).
		Return(errors.New("mailbox full")).Once()

	sent := notifier.Notify(context.Background(), Notification{Kind: NotifyPendingApproval, User: applicant})
	assert.True(t, sent)
	mailer.AssertExpectations(t)
	mailer.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, "member@example.com", mock.Anything, mock.Anything)
}

func TestNotifyPendingApprovalWithoutAdmins(t *testing.T) {
	env := newTestEnv(t)
	mailer := &mockMailer{}
	notifier := newTestNotifier(env, mailer)
	applicant := env.seedUser(t, "anna", entity.UserStatePendingApproval, entity.UserRoleUser)

	assert.False(t, notifier.Notify(context.Background(), Notification{Kind: NotifyPendingApproval, User: applicant}))
	mailer.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestNotifyReportsDeliveryFailure(t *testing.T) {
	env := newTestEnv(t)
	mailer := &mockMailer{}
	notifier := newTestNotifier(env, mailer)
	user := env.seedUser(t, "anna", entity.UserStateActive, entity.UserRoleUser)

	mailer.On("Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(errors.New("smtp down")).Once()

	assert.False(t, notifier.Notify(context.Background(), Notification{Kind: NotifyApproval, User: user}))
	assert.False(t, notifier.Notify(context.Background(), Notification{Kind: NotifyApproval}))
}
