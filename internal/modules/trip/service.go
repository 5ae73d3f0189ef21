// README: Trip service runs the state machine: authorization, CAS writes, settlement hook and expiry.
package trip

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"zemi/internal/metrics"
	"zemi/internal/modules/ledger"
	"zemi/internal/modules/notify"
	"zemi/internal/txn"
	"zemi/internal/types"
)

// Gate is the driver availability check run inside the accept transaction.
type Gate interface {
	CheckCanAccept(ctx context.Context, driverID types.ID) error
}

// Settler credits the driver for a completed trip. It runs inside the
// completing transaction; an error rolls the completion back.
type Settler interface {
	Settle(ctx context.Context, t *Trip) (*ledger.Transaction, error)
}

// CreditRestorer gives an expired request's trip credit back to its grant.
type CreditRestorer interface {
	RestoreGrant(ctx context.Context, id types.ID, now time.Time) error
}

// Targeter picks the online drivers told about a new request.
type Targeter interface {
	Targets(ctx context.Context) ([]types.ID, error)
}

type Config struct {
	Fare       decimal.Decimal
	RequestTTL time.Duration
	ExpiryTick time.Duration
}

type Deps struct {
	Gate     Gate
	Settler  Settler
	Credits  CreditRestorer
	Events   notify.Publisher
	Targeter Targeter
	Logger   logrus.FieldLogger
}

type Service struct {
	store    Store
	tx       txn.Manager
	cfg      Config
	gate     Gate
	settler  Settler
	credits  CreditRestorer
	events   notify.Publisher
	targeter Targeter
	log      logrus.FieldLogger
	now      func() time.Time
}

func NewService(store Store, tx txn.Manager, cfg Config, deps Deps) *Service {
	if deps.Events == nil {
		deps.Events = notify.Nop{}
	}
	if deps.Logger == nil {
		deps.Logger = logrus.StandardLogger()
	}
	if cfg.ExpiryTick <= 0 {
		cfg.ExpiryTick = 30 * time.Second
	}
	return &Service{
		store:    store,
		tx:       tx,
		cfg:      cfg,
		gate:     deps.Gate,
		settler:  deps.Settler,
		credits:  deps.Credits,
		events:   deps.Events,
		targeter: deps.Targeter,
		log:      deps.Logger.WithField("module", "trip"),
		now:      time.Now,
	}
}

// SetSettler wires settlement after construction; the engine itself depends
// on trips for its input type.
func (s *Service) SetSettler(settler Settler) {
	s.settler = settler
}

type OpenCommand struct {
	ClientID    types.ID
	GrantID     types.ID
	Origin      types.Point
	Destination *types.Point
}

// Open inserts a requested trip paid by GrantID. It must run inside the
// transaction that consumed the credit; Announce publishes it after commit.
func (s *Service) Open(ctx context.Context, cmd OpenCommand) (*Trip, error) {
	if cmd.ClientID == "" || cmd.GrantID == "" || !cmd.Origin.Valid() {
		return nil, ErrBadRequest
	}
	if cmd.Destination != nil && !cmd.Destination.Valid() {
		return nil, ErrBadRequest
	}
	now := s.now().UTC()
	t := &Trip{
		ID:            types.NewID(),
		ClientID:      cmd.ClientID,
		Origin:        cmd.Origin,
		Destination:   cmd.Destination,
		Status:        StatusRequested,
		Fare:          s.cfg.Fare,
		CreditGrantID: cmd.GrantID,
		RequestedAt:   now,
	}
	if err := s.store.Create(ctx, t); err != nil {
		return nil, err
	}
	clientID := cmd.ClientID
	if err := s.store.AppendEvent(ctx, &StateEvent{
		TripID:     t.ID,
		FromStatus: StatusNone,
		ToStatus:   StatusRequested,
		ActorRole:  types.RoleClient,
		ActorID:    &clientID,
		CreatedAt:  now,
	}); err != nil {
		return nil, err
	}
	return t, nil
}

// Announce tells a sample of online drivers about a newly requested trip.
func (s *Service) Announce(ctx context.Context, t *Trip) {
	var recipients []types.ID
	if s.targeter != nil {
		ids, err := s.targeter.Targets(ctx)
		if err != nil {
			s.log.WithError(err).WithField("trip_id", t.ID).Warn("presence lookup failed")
		}
		recipients = ids
	}
	s.publish(notify.TripRequested, t, recipients)
}

func (s *Service) Accept(ctx context.Context, actor types.Actor, id types.ID) (*Trip, error) {
	return s.transition(ctx, actor, id, EventAccept, "")
}

func (s *Service) Start(ctx context.Context, actor types.Actor, id types.ID) (*Trip, error) {
	return s.transition(ctx, actor, id, EventStart, "")
}

// Complete finishes the trip and settles the fare in the same transaction.
func (s *Service) Complete(ctx context.Context, actor types.Actor, id types.ID) (*Trip, error) {
	return s.transition(ctx, actor, id, EventComplete, "")
}

func (s *Service) Cancel(ctx context.Context, actor types.Actor, id types.ID, reason string) (*Trip, error) {
	return s.transition(ctx, actor, id, EventCancel, reason)
}

// Expire closes a request nobody accepted. Only the system actor may do so.
func (s *Service) Expire(ctx context.Context, actor types.Actor, id types.ID) (*Trip, error) {
	return s.transition(ctx, actor, id, EventExpire, "")
}

// Get returns a trip to one of its parties, an admin, or any driver while it
// is still open for acceptance.
func (s *Service) Get(ctx context.Context, actor types.Actor, id types.ID) (*Trip, error) {
	t, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch {
	case actor.Is(types.RoleAdmin), t.Party(actor.ID):
		return t, nil
	case actor.Is(types.RoleDriver) && t.Status == StatusRequested:
		return t, nil
	}
	return nil, ErrForbidden
}

func (s *Service) Events(ctx context.Context, actor types.Actor, id types.ID) ([]StateEvent, error) {
	if _, err := s.Get(ctx, actor, id); err != nil {
		return nil, err
	}
	return s.store.Events(ctx, id)
}

// ListRequested is the driver's poll for open requests, newest first.
func (s *Service) ListRequested(ctx context.Context, actor types.Actor, limit int) ([]Trip, error) {
	if !actor.Is(types.RoleDriver) && !actor.Is(types.RoleAdmin) {
		return nil, ErrForbidden
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.store.ListRequested(ctx, limit)
}

func (s *Service) transition(ctx context.Context, actor types.Actor, id types.ID, ev EventName, reason string) (*Trip, error) {
	var out *Trip
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		t, err := s.store.Get(ctx, id)
		if err != nil {
			return err
		}
		to, ok := Next(t.Status, ev)
		if !ok {
			return rejection(t.Status, ev)
		}
		if !Authorized(t, ev, actor) {
			return ErrForbidden
		}

		now := s.now().UTC()
		if ev == EventAccept {
			if err := s.accept(ctx, t, actor.ID, now); err != nil {
				return err
			}
		} else {
			u := StatusUpdate{ID: t.ID, From: t.Status, To: to, Version: t.StatusVersion, At: now}
			if ev == EventCancel {
				by := actor.ID
				u.CancelledBy = &by
				if reason != "" {
					u.CancelReason = &reason
				}
			}
			applied, err := s.store.UpdateStatus(ctx, u)
			if err != nil {
				return err
			}
			if !applied {
				return s.stale(ctx, id, ev)
			}
		}

		var actorID *types.ID
		if !actor.Is(types.RoleSystem) {
			aid := actor.ID
			actorID = &aid
		}
		if err := s.store.AppendEvent(ctx, &StateEvent{
			TripID:     t.ID,
			FromStatus: t.Status,
			ToStatus:   to,
			ActorRole:  actor.Role,
			ActorID:    actorID,
			CreatedAt:  now,
		}); err != nil {
			return err
		}

		if t, err = s.store.Get(ctx, id); err != nil {
			return err
		}
		switch to {
		case StatusCompleted:
			if s.settler != nil {
				if _, err := s.settler.Settle(ctx, t); err != nil {
					return err
				}
			}
		case StatusExpired:
			if s.credits != nil {
				if err := s.credits.RestoreGrant(ctx, t.CreditGrantID, now); err != nil {
					return err
				}
			}
		}
		out = t
		return nil
	})
	metrics.TripTransitions.WithLabelValues(string(ev), resultLabel(err)).Inc()
	if err != nil {
		return nil, err
	}
	s.publish(eventType(out.Status), out, nil)
	return out, nil
}

func (s *Service) accept(ctx context.Context, t *Trip, driverID types.ID, now time.Time) error {
	if s.gate != nil {
		if err := s.gate.CheckCanAccept(ctx, driverID); err != nil {
			return err
		}
	}
	busy, err := s.store.HasActiveByDriver(ctx, driverID)
	if err != nil {
		return err
	}
	if busy {
		return ErrDriverBusy
	}
	assigned, err := s.store.Assign(ctx, t.ID, driverID, t.StatusVersion, now)
	if err != nil {
		return err
	}
	if !assigned {
		return ErrNoLongerAvailable
	}
	return nil
}

// stale explains a CAS miss by re-reading the row a concurrent writer changed.
func (s *Service) stale(ctx context.Context, id types.ID, ev EventName) error {
	cur, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if _, ok := Next(cur.Status, ev); ok {
		return ErrConflict
	}
	return rejection(cur.Status, ev)
}

// ExpireStale moves requests older than the TTL to expired and restores
// their credit. Each trip is handled in its own transaction.
func (s *Service) ExpireStale(ctx context.Context) (int, error) {
	if s.cfg.RequestTTL <= 0 {
		return 0, nil
	}
	cutoff := s.now().UTC().Add(-s.cfg.RequestTTL)
	stale, err := s.store.ListStaleRequested(ctx, cutoff, 100)
	if err != nil {
		return 0, err
	}
	expired := 0
	for _, t := range stale {
		_, err := s.Expire(ctx, types.SystemActor, t.ID)
		switch {
		case err == nil:
			expired++
			metrics.TripsExpired.Inc()
		case errors.Is(err, ErrIllegalTransition), errors.Is(err, ErrNoLongerAvailable), errors.Is(err, ErrConflict):
			// accepted between listing and expiring
		default:
			return expired, err
		}
	}
	return expired, nil
}

// RunRequestExpiry runs ExpireStale on every tick until ctx is done.
func (s *Service) RunRequestExpiry(ctx context.Context) {
	if s.cfg.RequestTTL <= 0 {
		return
	}
	ticker := time.NewTicker(s.cfg.ExpiryTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.ExpireStale(ctx)
			if err != nil {
				s.log.WithError(err).Error("request expiry failed")
				continue
			}
			if n > 0 {
				s.log.WithField("expired", n).Info("expired stale trip requests")
			}
		}
	}
}

func (s *Service) publish(typ notify.EventType, t *Trip, recipients []types.ID) {
	s.events.Publish(notify.Event{
		Type:       typ,
		TripID:     t.ID,
		ClientID:   t.ClientID,
		DriverID:   t.DriverID,
		Status:     string(t.Status),
		Recipients: recipients,
		OccurredAt: s.now().UTC(),
	})
}

func eventType(st Status) notify.EventType {
	switch st {
	case StatusAccepted:
		return notify.TripAccepted
	case StatusInProgress:
		return notify.TripStarted
	case StatusCompleted:
		return notify.TripCompleted
	case StatusCancelled:
		return notify.TripCancelled
	case StatusExpired:
		return notify.TripExpired
	}
	return notify.TripRequested
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrIllegalTransition):
		return "illegal"
	case errors.Is(err, ErrNoLongerAvailable):
		return "unavailable"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrDriverBusy):
		return "busy"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	}
	return "error"
}
