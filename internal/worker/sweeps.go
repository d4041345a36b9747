package worker

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/nimbushq/backend/internal/billing"
	"github.com/nimbushq/backend/internal/invitations"
	"github.com/nimbushq/backend/internal/models"
	"github.com/nimbushq/backend/internal/notifications"
	"github.com/nimbushq/backend/internal/webhooks"
)

// sweepTimeout bounds one sweep run.
const sweepTimeout = 5 * time.Minute

// Sweeper runs the scheduled maintenance jobs: invitation expiry, trial
// expiry, grace-period enforcement, and dunning reminders.
type Sweeper struct {
	invRepo     *invitations.Repository
	billingRepo *billing.Repository
	notifier    *notifications.Service
	dispatcher  *webhooks.Dispatcher
	graceDays   int
	logger      *zap.Logger
	cron        *cron.Cron
}

// NewSweeper creates the sweeper with its cron schedule unstarted.
func NewSweeper(invRepo *invitations.Repository, billingRepo *billing.Repository,
	notifier *notifications.Service, dispatcher *webhooks.Dispatcher,
	graceDays int, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		invRepo:     invRepo,
		billingRepo: billingRepo,
		notifier:    notifier,
		dispatcher:  dispatcher,
		graceDays:   graceDays,
		logger:      logger,
		cron:        cron.New(),
	}
}

// Start registers the schedules and starts the cron runner.
// Invitations sweep hourly; billing sweeps daily.
func (s *Sweeper) Start() error {
	if _, err := s.cron.AddFunc("@hourly", s.runWithTimeout(s.SweepInvitations)); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc("@daily", s.runWithTimeout(s.SweepBilling)); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc("@daily", s.runWithTimeout(s.SendDunningReminders)); err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop stops the cron runner and waits for running jobs.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Sweeper) runWithTimeout(fn func(context.Context) error) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			s.logger.Error("sweep failed", zap.Error(err))
		}
	}
}

// SweepInvitations expires pending invitations past their deadline.
func (s *Sweeper) SweepInvitations(ctx context.Context) error {
	n, err := s.invRepo.ExpirePending(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		s.logger.Info("expired invitations", zap.Int64("count", n))
	}
	return nil
}

// SweepBilling ends exhausted grace periods and unattached trials.
func (s *Sweeper) SweepBilling(ctx context.Context) error {
	expired, err := s.billingRepo.ExpireGracePeriods(ctx, s.graceDays)
	if err != nil {
		return err
	}
	for _, sub := range expired {
		s.logger.Info("grace period ended",
			zap.String("organization_id", sub.OrganizationID.String()))
		s.dispatcher.Dispatch(ctx, sub.OrganizationID, models.EventSubscriptionUpdated, sub)
		if err := s.notifier.NotifyOrgManagers(ctx, sub.OrganizationID,
			models.NotificationSubscriptionCanceled,
			"Access suspended",
			"Your grace period has ended and access to paid features is suspended. Update your payment method to restore access."); err != nil {
			s.logger.Warn("notify grace end failed", zap.Error(err))
		}
	}

	trials, err := s.billingRepo.ExpireTrials(ctx)
	if err != nil {
		return err
	}
	for _, sub := range trials {
		s.logger.Info("trial ended without subscription",
			zap.String("organization_id", sub.OrganizationID.String()))
		s.dispatcher.Dispatch(ctx, sub.OrganizationID, models.EventSubscriptionUpdated, sub)
	}
	return nil
}

// SendDunningReminders nudges orgs still in their grace period. Only the
// high and critical buckets get the daily reminder to avoid mail fatigue.
func (s *Sweeper) SendDunningReminders(ctx context.Context) error {
	pastDue, err := s.billingRepo.ListPastDue(ctx)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	for _, sub := range pastDue {
		if sub.PastDueSince == nil {
			continue
		}
		grace := billing.CalculateGrace(*sub.PastDueSince, s.graceDays, now)
		if !grace.IsInGracePeriod {
			continue
		}
		if grace.Urgency != billing.UrgencyHigh && grace.Urgency != billing.UrgencyCritical {
			continue
		}
		ntype := models.NotificationPaymentFailed
		if grace.Urgency == billing.UrgencyCritical {
			ntype = models.NotificationGraceCritical
		}
		if err := s.notifier.NotifyOrgManagers(ctx, sub.OrganizationID, ntype,
			"Payment still failing", grace.Message); err != nil {
			s.logger.Warn("dunning reminder failed",
				zap.String("organization_id", sub.OrganizationID.String()), zap.Error(err))
		}
	}
	return nil
}
