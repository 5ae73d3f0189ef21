// README: Post-trip ratings between client and driver.
package rating

import (
	"errors"
	"time"

	"zemi/internal/types"
)

type Direction string

const (
	ClientToDriver Direction = "client_to_driver"
	DriverToClient Direction = "driver_to_client"
)

type Rating struct {
	ID        types.ID  `json:"id"`
	TripID    types.ID  `json:"trip_id"`
	RaterID   types.ID  `json:"rater_id"`
	RatedID   types.ID  `json:"rated_id"`
	Direction Direction `json:"direction"`
	Score     int       `json:"score"`
	Comment   string    `json:"comment,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type Summary struct {
	UserID  types.ID `json:"user_id"`
	Count   int      `json:"count"`
	Average float64  `json:"average"`
}

const maxCommentLen = 500

var (
	ErrTripNotCompleted = errors.New("trip is not completed")
	ErrNotAParty        = errors.New("rater is not a party to the trip")
	ErrAlreadyRated     = errors.New("trip already rated in this direction")
	ErrInvalidScore     = errors.New("score must be between 1 and 5")
	ErrBadRequest       = errors.New("bad request")
)
