// README: Driver availability gate: eligibility, activation, approval and subscriptions.
package driver

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"zemi/internal/txn"
	"zemi/internal/types"
)

// Presence tracks which drivers are online for request fan-out.
type Presence interface {
	SetOnline(ctx context.Context, driverID types.ID) error
	SetOffline(ctx context.Context, driverID types.ID) error
}

type Options struct {
	TrialTrips int
	Presence   Presence
	Logger     logrus.FieldLogger
}

type Service struct {
	store      Store
	tx         txn.Manager
	presence   Presence
	trialTrips int
	log        logrus.FieldLogger
	now        func() time.Time
}

func NewService(store Store, tx txn.Manager, opts Options) *Service {
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Service{
		store:      store,
		tx:         tx,
		presence:   opts.Presence,
		trialTrips: opts.TrialTrips,
		log:        log.WithField("module", "driver"),
		now:        time.Now,
	}
}

// Profile returns the driver's profile, creating a pending one on first use.
func (s *Service) Profile(ctx context.Context, driverID types.ID) (*Profile, error) {
	if driverID == "" {
		return nil, ErrBadRequest
	}
	return s.store.EnsureProfile(ctx, driverID, s.trialTrips, s.now().UTC())
}

func (s *Service) Eligibility(ctx context.Context, driverID types.ID) (*Eligibility, error) {
	p, err := s.store.GetProfile(ctx, driverID)
	if err != nil {
		return nil, err
	}
	sub, err := s.store.ActiveSubscription(ctx, driverID, s.now().UTC())
	if err != nil {
		return nil, err
	}
	e := &Eligibility{
		DriverID:            driverID,
		Approved:            p.Approval == ApprovalApproved,
		SubscriptionActive:  sub != nil,
		TrialTripsRemaining: p.TrialTripsRemaining,
		CanGoOnline:         Eligible(p, sub != nil),
	}
	if sub != nil {
		ends := sub.EndsAt
		e.SubscriptionEndsAt = &ends
	}
	return e, nil
}

// CanGoOnline reports approved AND (active subscription OR trial trips left).
// An unknown driver cannot go online.
func (s *Service) CanGoOnline(ctx context.Context, driverID types.ID) (bool, error) {
	e, err := s.Eligibility(ctx, driverID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return e.CanGoOnline, nil
}

// SetActivation switches a driver online or offline. Only the driver or an
// admin may do so, only approved drivers may change state, and going active
// requires CanGoOnline.
func (s *Service) SetActivation(ctx context.Context, actor types.Actor, driverID types.ID, desired Activation) (*Profile, error) {
	if !desired.Valid() {
		return nil, ErrBadRequest
	}
	if !actor.Is(types.RoleAdmin) && !(actor.Is(types.RoleDriver) && actor.ID == driverID) {
		return nil, ErrForbidden
	}

	var out *Profile
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		now := s.now().UTC()
		p, err := s.store.GetProfileForUpdate(ctx, driverID)
		if err != nil {
			return err
		}
		if p.Approval != ApprovalApproved {
			return ErrForbidden
		}
		if desired == ActivationActive {
			sub, err := s.store.ActiveSubscription(ctx, driverID, now)
			if err != nil {
				return err
			}
			if !Eligible(p, sub != nil) {
				return ErrSubscriptionRequired
			}
		}
		if p.Activation != desired {
			if err := s.store.SetActivation(ctx, driverID, desired, now); err != nil {
				return err
			}
			p.Activation = desired
			p.UpdatedAt = now
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.syncPresence(ctx, driverID, desired)
	return out, nil
}

// SetApproval is the admin review decision. Anything other than approved
// forces the driver offline.
func (s *Service) SetApproval(ctx context.Context, actor types.Actor, driverID types.ID, approval Approval) (*Profile, error) {
	if !actor.Is(types.RoleAdmin) {
		return nil, ErrForbidden
	}
	if !approval.Valid() || driverID == "" {
		return nil, ErrBadRequest
	}

	var out *Profile
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		now := s.now().UTC()
		if _, err := s.store.EnsureProfile(ctx, driverID, s.trialTrips, now); err != nil {
			return err
		}
		if approval != ApprovalApproved {
			if err := s.store.SetActivation(ctx, driverID, ActivationInactive, now); err != nil {
				return err
			}
		}
		if err := s.store.SetApproval(ctx, driverID, approval, now); err != nil {
			return err
		}
		p, err := s.store.GetProfile(ctx, driverID)
		out = p
		return err
	})
	if err != nil {
		return nil, err
	}
	if out.Activation == ActivationInactive {
		s.syncPresence(ctx, driverID, ActivationInactive)
	}
	s.log.WithFields(logrus.Fields{"driver_id": driverID, "approval": approval, "admin_id": actor.ID}).Info("driver approval updated")
	return out, nil
}

// GrantSubscription records a paid period. A renewal bought while a period is
// running starts when that period ends.
func (s *Service) GrantSubscription(ctx context.Context, driverID types.ID, days int, reference string) (*Subscription, error) {
	if driverID == "" || days <= 0 {
		return nil, ErrBadRequest
	}
	if reference == "" {
		reference = string(types.NewID())
	}

	var out *Subscription
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		now := s.now().UTC()
		if _, err := s.store.EnsureProfile(ctx, driverID, s.trialTrips, now); err != nil {
			return err
		}
		start := now
		current, err := s.store.ActiveSubscription(ctx, driverID, now)
		if err != nil {
			return err
		}
		if current != nil {
			start = current.EndsAt
		}
		sub := &Subscription{
			ID:        types.NewID(),
			DriverID:  driverID,
			StartsAt:  start,
			EndsAt:    start.AddDate(0, 0, days),
			Reference: reference,
			CreatedAt: now,
		}
		if err := s.store.CreateSubscription(ctx, sub); err != nil {
			return err
		}
		out = sub
		return nil
	})
	return out, err
}

// CheckCanAccept is the gate for trip acceptance and must run inside the
// accepting transaction. It locks the profile row, serializing a driver's
// concurrent accepts.
func (s *Service) CheckCanAccept(ctx context.Context, driverID types.ID) error {
	p, err := s.store.GetProfileForUpdate(ctx, driverID)
	if errors.Is(err, ErrNotFound) {
		return ErrForbidden
	}
	if err != nil {
		return err
	}
	if p.Approval != ApprovalApproved || p.Activation != ActivationActive {
		return ErrForbidden
	}
	sub, err := s.store.ActiveSubscription(ctx, driverID, s.now().UTC())
	if err != nil {
		return err
	}
	if !Eligible(p, sub != nil) {
		return ErrSubscriptionRequired
	}
	return nil
}

// MarkOffline removes the driver from presence after a deactivation that
// happened elsewhere, such as settlement exhausting the trial.
func (s *Service) MarkOffline(ctx context.Context, driverID types.ID) {
	s.syncPresence(ctx, driverID, ActivationInactive)
}

func (s *Service) syncPresence(ctx context.Context, driverID types.ID, a Activation) {
	if s.presence == nil {
		return
	}
	var err error
	if a == ActivationActive {
		err = s.presence.SetOnline(ctx, driverID)
	} else {
		err = s.presence.SetOffline(ctx, driverID)
	}
	if err != nil {
		s.log.WithError(err).WithField("driver_id", driverID).Warn("presence update failed")
	}
}
