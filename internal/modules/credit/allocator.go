// README: Trip credit allocator: a trip request consumes exactly one usable credit or fails.
package credit

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"zemi/internal/metrics"
	"zemi/internal/modules/ledger"
	"zemi/internal/modules/trip"
	"zemi/internal/txn"
	"zemi/internal/types"
)

var (
	ErrNoEligibleCredit = errors.New("no eligible trip credit")
	ErrForbidden        = errors.New("forbidden")
)

// Grants is the part of the ledger store the allocator needs.
type Grants interface {
	UsableGrants(ctx context.Context, ownerID types.ID, now time.Time) ([]ledger.Grant, error)
	ConsumeGrant(ctx context.Context, id types.ID, now time.Time) (bool, error)
}

// Trips opens and announces requested trips.
type Trips interface {
	Open(ctx context.Context, cmd trip.OpenCommand) (*trip.Trip, error)
	Announce(ctx context.Context, t *trip.Trip)
}

type Allocator struct {
	grants Grants
	trips  Trips
	tx     txn.Manager
	log    logrus.FieldLogger
	now    func() time.Time
}

func NewAllocator(grants Grants, trips Trips, tx txn.Manager, log logrus.FieldLogger) *Allocator {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Allocator{grants: grants, trips: trips, tx: tx, log: log.WithField("module", "credit"), now: time.Now}
}

type RequestTripCommand struct {
	Origin      types.Point
	Destination *types.Point
}

// RequestTrip consumes one credit from the client's earliest-expiring usable
// grant and opens a requested trip against it, in one transaction. When a
// concurrent request drains the chosen grant first the next candidate is
// tried; with none left the result is ErrNoEligibleCredit and no trip exists.
func (a *Allocator) RequestTrip(ctx context.Context, actor types.Actor, cmd RequestTripCommand) (*trip.Trip, error) {
	if !actor.Is(types.RoleClient) {
		return nil, ErrForbidden
	}
	if !cmd.Origin.Valid() || (cmd.Destination != nil && !cmd.Destination.Valid()) {
		return nil, trip.ErrBadRequest
	}

	var opened *trip.Trip
	err := a.tx.InTx(ctx, func(ctx context.Context) error {
		now := a.now().UTC()
		candidates, err := a.grants.UsableGrants(ctx, actor.ID, now)
		if err != nil {
			return err
		}
		for _, g := range candidates {
			ok, err := a.grants.ConsumeGrant(ctx, g.ID, now)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			opened, err = a.trips.Open(ctx, trip.OpenCommand{
				ClientID:    actor.ID,
				GrantID:     g.ID,
				Origin:      cmd.Origin,
				Destination: cmd.Destination,
			})
			return err
		}
		return ErrNoEligibleCredit
	})
	metrics.TripRequests.WithLabelValues(requestResult(err)).Inc()
	if err != nil {
		return nil, err
	}
	a.log.WithFields(logrus.Fields{
		"trip_id":   opened.ID,
		"client_id": actor.ID,
		"grant_id":  opened.CreditGrantID,
	}).Info("trip requested")
	a.trips.Announce(ctx, opened)
	return opened, nil
}

func requestResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNoEligibleCredit):
		return "no_credit"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	}
	return "error"
}
