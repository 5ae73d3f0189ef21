// README: Trip handlers for request, polling, lifecycle transitions and ratings.
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	httpmiddleware "zemi/internal/http/middleware"
	"zemi/internal/modules/credit"
	"zemi/internal/modules/rating"
	"zemi/internal/modules/trip"
	"zemi/internal/types"
)

type TripHandler struct {
	allocator *credit.Allocator
	trips     *trip.Service
	ratings   *rating.Service
}

func NewTripHandler(allocator *credit.Allocator, trips *trip.Service, ratings *rating.Service) *TripHandler {
	return &TripHandler{allocator: allocator, trips: trips, ratings: ratings}
}

type requestTripReq struct {
	Origin      *types.Point `json:"origin"`
	Destination *types.Point `json:"destination"`
}

func (h *TripHandler) Request(c *gin.Context) {
	var req requestTripReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Origin == nil {
		writeError(c, http.StatusBadRequest, "missing origin")
		return
	}
	t, err := h.allocator.RequestTrip(c.Request.Context(), httpmiddleware.Caller(c), credit.RequestTripCommand{
		Origin:      *req.Origin,
		Destination: req.Destination,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, viewTrip(t))
}

func (h *TripHandler) ListRequested(c *gin.Context) {
	trips, err := h.trips.ListRequested(c.Request.Context(), httpmiddleware.Caller(c), queryLimit(c, 20))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	out := make([]tripView, 0, len(trips))
	for i := range trips {
		out = append(out, viewTrip(&trips[i]))
	}
	writeJSON(c, http.StatusOK, gin.H{"trips": out})
}

func (h *TripHandler) Get(c *gin.Context) {
	t, err := h.trips.Get(c.Request.Context(), httpmiddleware.Caller(c), types.ID(c.Param("id")))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, viewTrip(t))
}

func (h *TripHandler) Events(c *gin.Context) {
	events, err := h.trips.Events(c.Request.Context(), httpmiddleware.Caller(c), types.ID(c.Param("id")))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	out := make([]eventView, 0, len(events))
	for _, e := range events {
		out = append(out, eventView{From: e.FromStatus, To: e.ToStatus, ActorRole: e.ActorRole, ActorID: e.ActorID, At: e.CreatedAt})
	}
	writeJSON(c, http.StatusOK, gin.H{"events": out})
}

func (h *TripHandler) Accept(c *gin.Context) {
	h.transition(c, h.trips.Accept)
}

func (h *TripHandler) Start(c *gin.Context) {
	h.transition(c, h.trips.Start)
}

func (h *TripHandler) Complete(c *gin.Context) {
	h.transition(c, h.trips.Complete)
}

type cancelReq struct {
	Reason string `json:"reason"`
}

func (h *TripHandler) Cancel(c *gin.Context) {
	var req cancelReq
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, http.StatusBadRequest, "invalid json")
			return
		}
	}
	t, err := h.trips.Cancel(c.Request.Context(), httpmiddleware.Caller(c), types.ID(c.Param("id")), req.Reason)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, viewTrip(t))
}

type transitionFunc func(ctx context.Context, actor types.Actor, id types.ID) (*trip.Trip, error)

func (h *TripHandler) transition(c *gin.Context, fn transitionFunc) {
	t, err := fn(c.Request.Context(), httpmiddleware.Caller(c), types.ID(c.Param("id")))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, viewTrip(t))
}

type rateReq struct {
	Score   int    `json:"score"`
	Comment string `json:"comment"`
}

func (h *TripHandler) Rate(c *gin.Context) {
	var req rateReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	r, err := h.ratings.Rate(c.Request.Context(), httpmiddleware.Caller(c), rating.RateCommand{
		TripID:  types.ID(c.Param("id")),
		Score:   req.Score,
		Comment: req.Comment,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, r)
}

func (h *TripHandler) Ratings(c *gin.Context) {
	actor := httpmiddleware.Caller(c)
	id := types.ID(c.Param("id"))
	if _, err := h.trips.Get(c.Request.Context(), actor, id); err != nil {
		writeServiceError(c, err)
		return
	}
	ratings, err := h.ratings.ForTrip(c.Request.Context(), id)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"ratings": ratings})
}

func (h *TripHandler) UserRatings(c *gin.Context) {
	sum, err := h.ratings.Summary(c.Request.Context(), types.ID(c.Param("id")))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, sum)
}
