package notify

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"

	"github.com/tokengate/internal/domain"
)

// --- mocks ---

type mockMessenger struct{ mock.Mock }

func (m *mockMessenger) SendMessage(ctx context.Context, chatID, text string) error {
	return m.Called(ctx, chatID, text).Error(0)
}

type mockMailer struct{ mock.Mock }

func (m *mockMailer) SendEmail(to, subject, body string) error {
	return m.Called(to, subject, body).Error(0)
}

type mockPublisher struct{ mock.Mock }

func (m *mockPublisher) PublishAlert(ctx context.Context, subject, message string) error {
	return m.Called(ctx, subject, message).Error(0)
}

// --- builder ---

func newNotify(ownerEmail string) (Service, *mockMessenger, *mockMailer, *mockPublisher) {
	gw := &mockMessenger{}
	mail := &mockMailer{}
	pub := &mockPublisher{}
	svc := NewService(ServiceDeps{
		Gateway:    gw,
		Mailer:     mail,
		Publisher:  pub,
		OwnerID:    "owner",
		OwnerEmail: ownerEmail,
		Logger:     zap.NewNop(),
	})
	return svc, gw, mail, pub
}

func TestOwnerAlert_FansOutToAllChannels(t *testing.T) {
	svc, gw, mail, pub := newNotify("ops@example.com")
	gw.On("SendMessage", mock.Anything, "owner", "Sweep done\n\n2 evicted").Return(nil)
	mail.On("SendEmail", "ops@example.com", "Sweep done", "2 evicted").Return(nil)
	pub.On("PublishAlert", mock.Anything, "Sweep done", "2 evicted").Return(nil)

	svc.OwnerAlert(context.Background(), "Sweep done", "2 evicted")

	gw.AssertExpectations(t)
	mail.AssertExpectations(t)
	pub.AssertExpectations(t)
}

func TestOwnerAlert_NoOwnerEmailSkipsMail(t *testing.T) {
	svc, gw, mail, pub := newNotify("")
	gw.On("SendMessage", mock.Anything, "owner", mock.Anything).Return(nil)
	pub.On("PublishAlert", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	svc.OwnerAlert(context.Background(), "Sweep done", "2 evicted")

	mail.AssertNotCalled(t, "SendEmail", mock.Anything, mock.Anything, mock.Anything)
}

func TestOwnerAlert_ChannelFailuresAreIndependent(t *testing.T) {
	svc, gw, mail, pub := newNotify("ops@example.com")
	gw.On("SendMessage", mock.Anything, "owner", mock.Anything).Return(errors.New("api down"))
	mail.On("SendEmail", "ops@example.com", mock.Anything, mock.Anything).Return(errors.New("smtp down"))
	pub.On("PublishAlert", mock.Anything, mock.Anything, mock.Anything).Return(
		fmt.Errorf("no SNS topic configured: %w", domain.ErrNotConfigured))

	svc.OwnerAlert(context.Background(), "Sweep done", "2 evicted")

	gw.AssertExpectations(t)
	mail.AssertExpectations(t)
	pub.AssertExpectations(t)
}
