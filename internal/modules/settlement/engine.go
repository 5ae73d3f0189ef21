// README: Settlement engine: credits trip fares to driver wallets and sweeps withdrawals.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"zemi/internal/metrics"
	"zemi/internal/modules/driver"
	"zemi/internal/modules/ledger"
	"zemi/internal/modules/trip"
	"zemi/internal/txn"
	"zemi/internal/types"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrForbidden         = errors.New("forbidden")
	ErrNotCompleted      = errors.New("trip is not completed")
	ErrInvalidFare       = errors.New("trip fare must be positive")
)

// Recorder appends ledger rows inside the caller's transaction.
type Recorder interface {
	Record(ctx context.Context, t ledger.Transaction) (*ledger.Transaction, error)
}

// Presence is told when settlement takes a driver offline.
type Presence interface {
	MarkOffline(ctx context.Context, driverID types.ID)
}

type Engine struct {
	drivers  driver.Store
	ledger   Recorder
	tx       txn.Manager
	presence Presence
	log      logrus.FieldLogger
	now      func() time.Time
}

func NewEngine(drivers driver.Store, ledger Recorder, tx txn.Manager, presence Presence, log logrus.FieldLogger) *Engine {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Engine{
		drivers:  drivers,
		ledger:   ledger,
		tx:       tx,
		presence: presence,
		log:      log.WithField("module", "settlement"),
		now:      time.Now,
	}
}

// Settle credits the fare of a completed trip to its driver. It locks the
// driver profile, appends the trip_earning row keyed by trip id, draws one
// trial trip when no paid subscription is running, and deactivates the
// driver if that leaves them ineligible. Everything happens in one
// transaction, joined from the completing transition when there is one.
// Presence is updated only once that transaction commits.
func (e *Engine) Settle(ctx context.Context, t *trip.Trip) (*ledger.Transaction, error) {
	if t.Status != trip.StatusCompleted || t.DriverID == nil {
		return nil, ErrNotCompleted
	}
	if !t.Fare.IsPositive() {
		return nil, fmt.Errorf("settle trip %s: %w", t.ID, ErrInvalidFare)
	}
	driverID := *t.DriverID

	outer := ctx
	var recorded *ledger.Transaction
	err := e.tx.InTx(ctx, func(ctx context.Context) error {
		now := e.now().UTC()
		p, err := e.drivers.GetProfileForUpdate(ctx, driverID)
		if err != nil {
			return fmt.Errorf("lock driver profile: %w", err)
		}
		if err := e.drivers.CreditWallet(ctx, driverID, t.Fare, now); err != nil {
			return fmt.Errorf("credit wallet: %w", err)
		}
		tripID := t.ID
		recorded, err = e.ledger.Record(ctx, ledger.Transaction{
			ActorID:    driverID,
			Amount:     t.Fare,
			Kind:       ledger.KindTripEarning,
			Status:     ledger.TxCompleted,
			Reference:  string(t.ID),
			TripID:     &tripID,
			RecordedAt: now,
		})
		if err != nil {
			return fmt.Errorf("record earning: %w", err)
		}

		sub, err := e.drivers.ActiveSubscription(ctx, driverID, now)
		if err != nil {
			return err
		}
		if sub != nil || p.TrialTripsRemaining == 0 {
			return nil
		}
		consumed, err := e.drivers.ConsumeTrial(ctx, driverID, now)
		if err != nil {
			return err
		}
		if consumed {
			p.TrialTripsRemaining--
		}
		if p.Activation == driver.ActivationActive && !driver.Eligible(p, false) {
			if err := e.drivers.SetActivation(ctx, driverID, driver.ActivationInactive, now); err != nil {
				return err
			}
			txn.AfterCommit(ctx, func() { e.deactivated(outer, driverID) })
		}
		return nil
	})
	if err != nil {
		metrics.Settlements.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.Settlements.WithLabelValues("ok").Inc()
	return recorded, nil
}

func (e *Engine) deactivated(ctx context.Context, driverID types.ID) {
	e.log.WithField("driver_id", driverID).Info("trial exhausted, driver deactivated")
	if e.presence != nil {
		e.presence.MarkOffline(ctx, driverID)
	}
}

// Withdraw sweeps the driver's whole wallet to zero and records the payout.
func (e *Engine) Withdraw(ctx context.Context, actor types.Actor, driverID types.ID) (*ledger.Transaction, error) {
	if !actor.Is(types.RoleAdmin) && !(actor.Is(types.RoleDriver) && actor.ID == driverID) {
		return nil, ErrForbidden
	}

	var recorded *ledger.Transaction
	err := e.tx.InTx(ctx, func(ctx context.Context) error {
		now := e.now().UTC()
		swept, err := e.drivers.SweepWallet(ctx, driverID, now)
		if err != nil {
			return err
		}
		if !swept.IsPositive() {
			return ErrInsufficientFunds
		}
		recorded, err = e.ledger.Record(ctx, ledger.Transaction{
			ActorID:    driverID,
			Amount:     swept,
			Kind:       ledger.KindWithdrawal,
			Status:     ledger.TxCompleted,
			RecordedAt: now,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	metrics.WithdrawalVolume.Add(recorded.Amount.InexactFloat64())
	e.log.WithFields(logrus.Fields{"driver_id": driverID, "amount": recorded.Amount.String()}).Info("wallet withdrawn")
	return recorded, nil
}
