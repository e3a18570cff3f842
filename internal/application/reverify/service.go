package reverify

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/tokengate/internal/application/verification"
	"github.com/tokengate/internal/domain"
	"github.com/tokengate/internal/pkg/keymutex"
)

const msgEvicted = "You were removed from group %s: your balance fell below the required minimum of %s. Re-verify once you top up."

// Service is the periodic re-verification sweep: every verified member of
// every configured group gets a fresh balance check, and members below the
// threshold are evicted.
type Service interface {
	// RunSweepOnce performs a single full pass. Overlapping calls return
	// ErrConflict; the running sweep is unaffected.
	RunSweepOnce(ctx context.Context) (*domain.SweepReport, error)
	// Start schedules the sweep on its interval.
	Start() error
	// Stop halts the schedule and waits for a running sweep to finish.
	Stop()
}

type groupStore interface {
	Scan(ctx context.Context) ([]domain.GroupConfig, error)
}

type userStore interface {
	ListVerifiedByGroup(ctx context.Context, groupID string) ([]domain.UserRecord, error)
	Update(ctx context.Context, groupID, userID string, updates map[string]interface{}) error
	DeleteIfUnchanged(ctx context.Context, rec *domain.UserRecord) error
}

type chainClient interface {
	GetBalance(ctx context.Context, tokenAddress, wallet string) (decimal.Decimal, error)
}

type gateway interface {
	SendMessage(ctx context.Context, chatID, text string) error
	KickMember(ctx context.Context, chatID, userID string) error
}

type inviteRevoker interface {
	Revoke(ctx context.Context, groupID, userID string) error
}

type alerter interface {
	OwnerAlert(ctx context.Context, subject, message string)
}

type service struct {
	groups  groupStore
	users   userStore
	chain   chainClient
	gw      gateway
	invites inviteRevoker
	alerts  alerter
	locks   *keymutex.KeyMutex

	cron     *cron.Cron
	interval time.Duration
	running  atomic.Bool

	ownerUserID string
	log         *zap.Logger
}

type ServiceDeps struct {
	GroupRepo   groupStore
	UserRepo    userStore
	Chain       chainClient
	Gateway     gateway
	Invites     inviteRevoker
	Alerts      alerter
	Locks       *keymutex.KeyMutex
	Interval    time.Duration
	OwnerUserID string
	Logger      *zap.Logger
}

func NewService(deps ServiceDeps) Service {
	return &service{
		groups:      deps.GroupRepo,
		users:       deps.UserRepo,
		chain:       deps.Chain,
		gw:          deps.Gateway,
		invites:     deps.Invites,
		alerts:      deps.Alerts,
		locks:       deps.Locks,
		cron:        cron.New(),
		interval:    deps.Interval,
		ownerUserID: deps.OwnerUserID,
		log:         deps.Logger,
	}
}

func (s *service) Start() error {
	spec := "@every " + s.interval.String()
	if _, err := s.cron.AddFunc(spec, s.sweepJob); err != nil {
		return fmt.Errorf("schedule sweep %q: %v", spec, err)
	}
	s.cron.Start()
	s.log.Info("re-verification sweep scheduled", zap.Duration("interval", s.interval))
	return nil
}

func (s *service) Stop() {
	<-s.cron.Stop().Done()
}

func (s *service) sweepJob() {
	// A sweep that cannot finish within its own interval is wedged on the
	// chain provider; the deadline cuts it loose before the next tick.
	ctx, cancel := context.WithTimeout(context.Background(), s.interval)
	defer cancel()
	if _, err := s.RunSweepOnce(ctx); err != nil && !errors.Is(err, domain.ErrConflict) {
		s.log.Error("sweep failed", zap.Error(err))
	}
}

func (s *service) RunSweepOnce(ctx context.Context) (*domain.SweepReport, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("sweep already running: %w", domain.ErrConflict)
	}
	defer s.running.Store(false)

	report := &domain.SweepReport{
		SweepID:   uuid.NewString(),
		StartedAt: time.Now().UTC(),
	}
	log := s.log.With(zap.String("sweep_id", report.SweepID))
	log.Info("re-verification sweep started")

	groups, err := s.groups.Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}

	for _, group := range groups {
		if ctx.Err() != nil {
			report.Duration = time.Since(report.StartedAt)
			return report, ctx.Err()
		}
		minBalance, err := group.MinBalanceDecimal()
		if err != nil {
			report.Failures++
			log.Warn("skipping group with corrupt min_balance",
				zap.String("group_id", group.GroupID), zap.Error(err))
			continue
		}
		members, err := s.users.ListVerifiedByGroup(ctx, group.GroupID)
		if err != nil {
			report.Failures++
			log.Warn("could not list members",
				zap.String("group_id", group.GroupID), zap.Error(err))
			continue
		}
		report.Groups++

		for i := range members {
			if ctx.Err() != nil {
				report.Duration = time.Since(report.StartedAt)
				return report, ctx.Err()
			}
			s.checkMember(ctx, log, &group, minBalance, &members[i], report)
		}
	}

	report.Duration = time.Since(report.StartedAt)
	log.Info("re-verification sweep finished",
		zap.Int("groups", report.Groups),
		zap.Int("checked", report.Checked),
		zap.Int("evicted", report.Evicted),
		zap.Int("skipped", report.Skipped),
		zap.Int("failures", report.Failures),
		zap.Duration("duration", report.Duration))

	if report.Eventful() && s.alerts != nil {
		s.alerts.OwnerAlert(ctx, "Re-verification sweep report", fmt.Sprintf(
			"Sweep %s: %d checked, %d evicted, %d failures across %d groups.",
			report.SweepID, report.Checked, report.Evicted, report.Failures, report.Groups))
	}
	return report, nil
}

// checkMember re-checks one verified member. One member failing never stops
// the sweep; every outcome lands in the report instead.
func (s *service) checkMember(ctx context.Context, log *zap.Logger, group *domain.GroupConfig, minBalance decimal.Decimal, rec *domain.UserRecord, report *domain.SweepReport) {
	if rec.UserID == s.ownerUserID {
		report.Skipped++
		return
	}
	report.Checked++

	// Chain I/O stays outside the record lock.
	balance, err := s.chain.GetBalance(ctx, group.TokenAddress, rec.Address)
	if err != nil {
		report.Failures++
		log.Warn("balance re-check failed, keeping member",
			zap.String("group_id", group.GroupID),
			zap.String("user_id", rec.UserID),
			zap.Error(err))
		return
	}

	key := verification.RecordKey(group.GroupID, rec.UserID)
	s.locks.Lock(key)
	defer s.locks.Unlock(key)

	if balance.GreaterThanOrEqual(minBalance) {
		if err := s.users.Update(ctx, group.GroupID, rec.UserID, map[string]interface{}{
			"last_verified_at": time.Now().UTC(),
		}); err != nil {
			report.Failures++
			log.Warn("could not refresh last_verified_at",
				zap.String("group_id", group.GroupID),
				zap.String("user_id", rec.UserID),
				zap.Error(err))
		}
		return
	}

	// The conditional delete is the single eviction commit. Losing it means
	// the member re-verified (or another sweep won) since our read.
	if err := s.users.DeleteIfUnchanged(ctx, rec); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			report.Skipped++
			log.Info("member changed mid-sweep, skipping",
				zap.String("group_id", group.GroupID),
				zap.String("user_id", rec.UserID))
			return
		}
		report.Failures++
		log.Warn("could not evict member",
			zap.String("group_id", group.GroupID),
			zap.String("user_id", rec.UserID),
			zap.Error(err))
		return
	}
	report.Evicted++
	log.Info("member evicted",
		zap.String("group_id", group.GroupID),
		zap.String("user_id", rec.UserID),
		zap.String("balance", balance.String()),
		zap.String("min_balance", group.MinBalance))

	// Explain first, then kick, so the DM lands while it still makes sense.
	if err := s.gw.SendMessage(ctx, rec.UserID, fmt.Sprintf(msgEvicted, group.GroupID, group.MinBalance)); err != nil {
		log.Warn("could not notify evicted member",
			zap.String("user_id", rec.UserID), zap.Error(err))
	}
	if err := s.gw.KickMember(ctx, group.GroupID, rec.UserID); err != nil {
		// The record is gone, so the join guard will catch them if they
		// rejoin; still worth a failure mark so the owner hears about it.
		report.Failures++
		log.Error("could not kick evicted member",
			zap.String("group_id", group.GroupID),
			zap.String("user_id", rec.UserID),
			zap.Error(err))
	}
	// An unclaimed invite from an earlier verification would let the evicted
	// member walk straight back in.
	if err := s.invites.Revoke(ctx, group.GroupID, rec.UserID); err != nil {
		report.Failures++
		log.Warn("could not revoke evicted member's invite",
			zap.String("group_id", group.GroupID),
			zap.String("user_id", rec.UserID),
			zap.Error(err))
	}
}
