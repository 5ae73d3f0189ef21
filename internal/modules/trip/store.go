// README: Trip store backed by PostgreSQL; every status write is a compare-and-swap.
package trip

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"zemi/internal/txn"
	"zemi/internal/types"
)

// StatusUpdate is a CAS write: it applies only while the row is still at
// From with StatusVersion Version.
type StatusUpdate struct {
	ID           types.ID
	From         Status
	To           Status
	Version      int
	At           time.Time
	CancelledBy  *types.ID
	CancelReason *string
}

type Store interface {
	Create(ctx context.Context, t *Trip) error
	Get(ctx context.Context, id types.ID) (*Trip, error)
	// Assign sets the driver and moves requested -> accepted, only while the
	// trip is requested, unassigned and at version. A driver that already holds
	// an active trip yields ErrDriverBusy.
	Assign(ctx context.Context, id, driverID types.ID, version int, at time.Time) (bool, error)
	UpdateStatus(ctx context.Context, u StatusUpdate) (bool, error)
	AppendEvent(ctx context.Context, e *StateEvent) error
	Events(ctx context.Context, tripID types.ID) ([]StateEvent, error)
	ListRequested(ctx context.Context, limit int) ([]Trip, error)
	// ListStaleRequested returns requested trips created before cutoff, oldest first.
	ListStaleRequested(ctx context.Context, cutoff time.Time, limit int) ([]Trip, error)
	HasActiveByDriver(ctx context.Context, driverID types.ID) (bool, error)
}

// oneActivePerDriver is the partial unique index over accepted/in_progress trips.
const oneActivePerDriver = "trips_one_active_per_driver"

type PgStore struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *PgStore {
	return &PgStore{db: db}
}

func (s *PgStore) q(ctx context.Context) txn.DBTX {
	return txn.Querier(ctx, s.db)
}

func (s *PgStore) Create(ctx context.Context, t *Trip) error {
	var dLat, dLng *float64
	if t.Destination != nil {
		dLat, dLng = &t.Destination.Lat, &t.Destination.Lng
	}
	_, err := s.q(ctx).Exec(ctx, `
		INSERT INTO trips (
			id, client_id, driver_id, status, status_version,
			origin_lat, origin_lng, destination_lat, destination_lng,
			fare, credit_grant_id, requested_at
		) VALUES (
			$1, $2, NULL, $3, $4,
			$5, $6, $7, $8,
			$9::numeric, $10, $11
		)`,
		string(t.ID), string(t.ClientID), string(t.Status), t.StatusVersion,
		t.Origin.Lat, t.Origin.Lng, dLat, dLng,
		t.Fare.String(), string(t.CreditGrantID), t.RequestedAt,
	)
	return err
}

const tripColumns = `id, client_id, driver_id, status, status_version,
	origin_lat, origin_lng, destination_lat, destination_lng,
	fare::text, credit_grant_id, requested_at,
	accepted_at, started_at, completed_at, cancelled_at, expired_at,
	cancelled_by, cancel_reason`

func scanTrip(row pgx.Row) (*Trip, error) {
	var t Trip
	var id, clientID, status, fare, grantID string
	var driverID, cancelledBy *string
	var dLat, dLng *float64
	err := row.Scan(
		&id, &clientID, &driverID, &status, &t.StatusVersion,
		&t.Origin.Lat, &t.Origin.Lng, &dLat, &dLng,
		&fare, &grantID, &t.RequestedAt,
		&t.AcceptedAt, &t.StartedAt, &t.CompletedAt, &t.CancelledAt, &t.ExpiredAt,
		&cancelledBy, &t.CancelReason,
	)
	if err != nil {
		return nil, err
	}
	t.ID, t.ClientID, t.CreditGrantID = types.ID(id), types.ID(clientID), types.ID(grantID)
	t.Status = Status(status)
	t.DriverID = toIDPtr(driverID)
	t.CancelledBy = toIDPtr(cancelledBy)
	if dLat != nil && dLng != nil {
		t.Destination = &types.Point{Lat: *dLat, Lng: *dLng}
	}
	if t.Fare, err = decimal.NewFromString(fare); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *PgStore) Get(ctx context.Context, id types.ID) (*Trip, error) {
	t, err := scanTrip(s.q(ctx).QueryRow(ctx, `SELECT `+tripColumns+` FROM trips WHERE id = $1`, string(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return t, err
}

func (s *PgStore) Assign(ctx context.Context, id, driverID types.ID, version int, at time.Time) (bool, error) {
	tag, err := s.q(ctx).Exec(ctx, `
		UPDATE trips
		SET driver_id = $2,
		    status = 'accepted',
		    status_version = status_version + 1,
		    accepted_at = $4
		WHERE id = $1 AND status = 'requested' AND driver_id IS NULL AND status_version = $3`,
		string(id), string(driverID), version, at,
	)
	if txn.IsUniqueViolation(err, oneActivePerDriver) {
		return false, ErrDriverBusy
	}
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PgStore) UpdateStatus(ctx context.Context, u StatusUpdate) (bool, error) {
	tag, err := s.q(ctx).Exec(ctx, `
		UPDATE trips
		SET status = $1::text,
		    status_version = status_version + 1,
		    started_at = CASE WHEN $1 = 'in_progress' THEN $5::timestamptz ELSE started_at END,
		    completed_at = CASE WHEN $1 = 'completed' THEN $5::timestamptz ELSE completed_at END,
		    cancelled_at = CASE WHEN $1 = 'cancelled' THEN $5::timestamptz ELSE cancelled_at END,
		    expired_at = CASE WHEN $1 = 'expired' THEN $5::timestamptz ELSE expired_at END,
		    cancelled_by = COALESCE($6::text, cancelled_by),
		    cancel_reason = COALESCE($7::text, cancel_reason)
		WHERE id = $2 AND status = $3 AND status_version = $4`,
		string(u.To), string(u.ID), string(u.From), u.Version, u.At,
		fromIDPtr(u.CancelledBy), u.CancelReason,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PgStore) AppendEvent(ctx context.Context, e *StateEvent) error {
	return s.q(ctx).QueryRow(ctx, `
		INSERT INTO trip_state_events (
			trip_id, from_status, to_status, actor_role, actor_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		string(e.TripID), string(e.FromStatus), string(e.ToStatus),
		string(e.ActorRole), fromIDPtr(e.ActorID), e.CreatedAt,
	).Scan(&e.ID)
}

func (s *PgStore) Events(ctx context.Context, tripID types.ID) ([]StateEvent, error) {
	rows, err := s.q(ctx).Query(ctx, `
		SELECT id, trip_id, from_status, to_status, actor_role, actor_id, created_at
		FROM trip_state_events
		WHERE trip_id = $1
		ORDER BY id`, string(tripID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []StateEvent
	for rows.Next() {
		var e StateEvent
		var id, from, to, role string
		var actorID *string
		if err := rows.Scan(&e.ID, &id, &from, &to, &role, &actorID, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.TripID, e.FromStatus, e.ToStatus, e.ActorRole = types.ID(id), Status(from), Status(to), types.Role(role)
		e.ActorID = toIDPtr(actorID)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PgStore) ListRequested(ctx context.Context, limit int) ([]Trip, error) {
	return s.list(ctx, `
		SELECT `+tripColumns+` FROM trips
		WHERE status = 'requested'
		ORDER BY requested_at DESC
		LIMIT $1`, limit)
}

func (s *PgStore) ListStaleRequested(ctx context.Context, cutoff time.Time, limit int) ([]Trip, error) {
	return s.list(ctx, `
		SELECT `+tripColumns+` FROM trips
		WHERE status = 'requested' AND requested_at < $1
		ORDER BY requested_at ASC
		LIMIT $2`, cutoff, limit)
}

func (s *PgStore) list(ctx context.Context, sql string, args ...any) ([]Trip, error) {
	rows, err := s.q(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Trip
	for rows.Next() {
		t, err := scanTrip(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (s *PgStore) HasActiveByDriver(ctx context.Context, driverID types.ID) (bool, error) {
	var exists bool
	err := s.q(ctx).QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM trips
			WHERE driver_id = $1 AND status IN ('accepted','in_progress')
		)`, string(driverID),
	).Scan(&exists)
	return exists, err
}

func toIDPtr(v *string) *types.ID {
	if v == nil {
		return nil
	}
	id := types.ID(*v)
	return &id
}

func fromIDPtr(v *types.ID) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}
