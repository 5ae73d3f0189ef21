// README: Rating store backed by PostgreSQL.
package rating

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"zemi/internal/txn"
	"zemi/internal/types"
)

type Store interface {
	// Create inserts r; a second rating for the same (trip, direction) yields ErrAlreadyRated.
	Create(ctx context.Context, r *Rating) error
	ListByTrip(ctx context.Context, tripID types.ID) ([]Rating, error)
	Summary(ctx context.Context, ratedID types.ID) (*Summary, error)
}

const uniqueTripDirection = "ratings_trip_direction_key"

type PgStore struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *PgStore {
	return &PgStore{db: db}
}

func (s *PgStore) Create(ctx context.Context, r *Rating) error {
	_, err := txn.Querier(ctx, s.db).Exec(ctx, `
		INSERT INTO ratings (id, trip_id, rater_id, rated_id, direction, score, comment, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		string(r.ID), string(r.TripID), string(r.RaterID), string(r.RatedID),
		string(r.Direction), r.Score, r.Comment, r.CreatedAt,
	)
	if txn.IsUniqueViolation(err, uniqueTripDirection) {
		return ErrAlreadyRated
	}
	return err
}

func (s *PgStore) ListByTrip(ctx context.Context, tripID types.ID) ([]Rating, error) {
	rows, err := txn.Querier(ctx, s.db).Query(ctx, `
		SELECT id, trip_id, rater_id, rated_id, direction, score, comment, created_at
		FROM ratings WHERE trip_id = $1 ORDER BY created_at`, string(tripID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Rating
	for rows.Next() {
		var r Rating
		var id, trip, rater, rated, dir string
		if err := rows.Scan(&id, &trip, &rater, &rated, &dir, &r.Score, &r.Comment, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.ID, r.TripID, r.RaterID, r.RatedID = types.ID(id), types.ID(trip), types.ID(rater), types.ID(rated)
		r.Direction = Direction(dir)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PgStore) Summary(ctx context.Context, ratedID types.ID) (*Summary, error) {
	sum := &Summary{UserID: ratedID}
	err := txn.Querier(ctx, s.db).QueryRow(ctx, `
		SELECT COUNT(*), COALESCE(AVG(score), 0)::float8
		FROM ratings WHERE rated_id = $1`, string(ratedID),
	).Scan(&sum.Count, &sum.Average)
	if err != nil {
		return nil, err
	}
	return sum, nil
}
