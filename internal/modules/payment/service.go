// README: Purchase flows: confirm a payment, then grant trip credit or a subscription period.
package payment

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"zemi/internal/config"
	"zemi/internal/modules/driver"
	"zemi/internal/modules/ledger"
	"zemi/internal/types"
)

var (
	ErrPaymentNotConfirmed = errors.New("payment not confirmed")
	ErrAmountMismatch      = errors.New("payment amount does not match plan price")
	ErrUnknownPlan         = errors.New("unknown plan")
	ErrForbidden           = errors.New("forbidden")
	ErrBadRequest          = errors.New("bad request")
	ErrDisabled            = errors.New("payments are not configured")
	ErrPaymentNotOwned     = errors.New("payment belongs to another user")
)

type CreditGranter interface {
	GrantCredit(ctx context.Context, cmd ledger.GrantCommand) (*ledger.Grant, error)
}

type SubscriptionGranter interface {
	GrantSubscription(ctx context.Context, driverID types.ID, days int, reference string) (*driver.Subscription, error)
}

type Service struct {
	confirmer     Confirmer
	credits       CreditGranter
	subscriptions SubscriptionGranter
	cfg           config.PaymentConfig
	log           logrus.FieldLogger
}

// NewService builds the purchase service. A nil confirmer disables purchases.
func NewService(confirmer Confirmer, credits CreditGranter, subscriptions SubscriptionGranter, cfg config.PaymentConfig, log logrus.FieldLogger) *Service {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Service{
		confirmer:     confirmer,
		credits:       credits,
		subscriptions: subscriptions,
		cfg:           cfg,
		log:           log.WithField("module", "payment"),
	}
}

func (s *Service) CreditPlans() []config.CreditPlan { return s.cfg.CreditPlans }

func (s *Service) SubscriptionPlans() []config.SubscriptionPlan { return s.cfg.SubscriptionPlans }

// PurchaseCredit grants the plan's trips once the referenced payment has
// succeeded for the plan price. The reference makes the purchase idempotent.
func (s *Service) PurchaseCredit(ctx context.Context, actor types.Actor, planCode, reference string) (*ledger.Grant, error) {
	if s.confirmer == nil {
		return nil, ErrDisabled
	}
	if !actor.Is(types.RoleClient) {
		return nil, ErrForbidden
	}
	plan, ok := s.creditPlan(planCode)
	if !ok {
		return nil, ErrUnknownPlan
	}
	conf, err := s.confirm(ctx, actor, reference, plan.Price)
	if err != nil {
		return nil, err
	}
	g, err := s.credits.GrantCredit(ctx, ledger.GrantCommand{
		ClientID:     actor.ID,
		Trips:        plan.Trips,
		ValidityDays: plan.ValidityDays,
		Reference:    conf.Reference,
		AmountPaid:   conf.Amount,
	})
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"client_id": actor.ID, "plan": plan.Code, "grant_id": g.ID}).Info("credit purchased")
	return g, nil
}

func (s *Service) PurchaseSubscription(ctx context.Context, actor types.Actor, planCode, reference string) (*driver.Subscription, error) {
	if s.confirmer == nil {
		return nil, ErrDisabled
	}
	if !actor.Is(types.RoleDriver) {
		return nil, ErrForbidden
	}
	plan, ok := s.subscriptionPlan(planCode)
	if !ok {
		return nil, ErrUnknownPlan
	}
	conf, err := s.confirm(ctx, actor, reference, plan.Price)
	if err != nil {
		return nil, err
	}
	sub, err := s.subscriptions.GrantSubscription(ctx, actor.ID, plan.Days, conf.Reference)
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"driver_id": actor.ID, "plan": plan.Code, "ends_at": sub.EndsAt}).Info("subscription purchased")
	return sub, nil
}

// confirm checks that the referenced payment succeeded, was made for actor and
// covers price in the configured currency.
func (s *Service) confirm(ctx context.Context, actor types.Actor, reference string, price decimal.Decimal) (*Confirmation, error) {
	if reference == "" {
		return nil, ErrBadRequest
	}
	conf, err := s.confirmer.Confirm(ctx, reference)
	if err != nil {
		return nil, err
	}
	if !conf.Succeeded {
		return nil, ErrPaymentNotConfirmed
	}
	if conf.ActorID != actor.ID {
		return nil, ErrPaymentNotOwned
	}
	if s.cfg.Currency != "" && conf.Currency != s.cfg.Currency {
		return nil, ErrAmountMismatch
	}
	if !conf.Amount.Equal(price) {
		return nil, ErrAmountMismatch
	}
	if conf.Reference == "" {
		conf.Reference = reference
	}
	return conf, nil
}

func (s *Service) creditPlan(code string) (config.CreditPlan, bool) {
	for _, p := range s.cfg.CreditPlans {
		if p.Code == code {
			return p, true
		}
	}
	return config.CreditPlan{}, false
}

func (s *Service) subscriptionPlan(code string) (config.SubscriptionPlan, bool) {
	for _, p := range s.cfg.SubscriptionPlans {
		if p.Code == code {
			return p, true
		}
	}
	return config.SubscriptionPlan{}, false
}
