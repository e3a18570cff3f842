package notify

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/tokengate/internal/domain"
)

type messenger interface {
	SendMessage(ctx context.Context, chatID, text string) error
}

type mailer interface {
	SendEmail(to, subject, body string) error
}

type publisher interface {
	PublishAlert(ctx context.Context, subject, message string) error
}

// Service fans operator alerts out over every configured channel: owner DM,
// email, and SNS. Channels are best-effort and independent; a disabled one
// (ErrNotConfigured) is quietly skipped.
type Service interface {
	OwnerAlert(ctx context.Context, subject, message string)
}

type service struct {
	gw         messenger
	mail       mailer
	sns        publisher
	ownerID    string
	ownerEmail string
	log        *zap.Logger
}

type ServiceDeps struct {
	Gateway    messenger
	Mailer     mailer
	Publisher  publisher
	OwnerID    string
	OwnerEmail string
	Logger     *zap.Logger
}

func NewService(deps ServiceDeps) Service {
	return &service{
		gw:         deps.Gateway,
		mail:       deps.Mailer,
		sns:        deps.Publisher,
		ownerID:    deps.OwnerID,
		ownerEmail: deps.OwnerEmail,
		log:        deps.Logger,
	}
}

func (s *service) OwnerAlert(ctx context.Context, subject, message string) {
	if err := s.gw.SendMessage(ctx, s.ownerID, subject+"\n\n"+message); err != nil {
		s.log.Warn("owner DM alert failed", zap.Error(err))
	}

	if s.ownerEmail == "" {
		s.log.Debug("email alerts disabled")
	} else if err := s.mail.SendEmail(s.ownerEmail, subject, message); err != nil {
		if errors.Is(err, domain.ErrNotConfigured) {
			s.log.Debug("email alerts disabled")
		} else {
			s.log.Warn("owner email alert failed", zap.Error(err))
		}
	}

	if err := s.sns.PublishAlert(ctx, subject, message); err != nil {
		if errors.Is(err, domain.ErrNotConfigured) {
			s.log.Debug("sns alerts disabled")
		} else {
			s.log.Warn("sns alert failed", zap.Error(err))
		}
	}
}
