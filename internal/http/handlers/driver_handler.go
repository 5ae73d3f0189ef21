// README: Driver handlers for profile, availability, subscription, wallet and history.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	httpmiddleware "zemi/internal/http/middleware"
	"zemi/internal/modules/driver"
	"zemi/internal/modules/ledger"
	"zemi/internal/modules/payment"
	"zemi/internal/modules/settlement"
	"zemi/internal/types"
)

type DriverHandler struct {
	drivers    *driver.Service
	settlement *settlement.Engine
	ledger     *ledger.Service
	payments   *payment.Service
}

func NewDriverHandler(drivers *driver.Service, engine *settlement.Engine, ledgerSvc *ledger.Service, payments *payment.Service) *DriverHandler {
	return &DriverHandler{drivers: drivers, settlement: engine, ledger: ledgerSvc, payments: payments}
}

// self resolves the calling driver, or writes 403 for other roles.
func self(c *gin.Context) (types.Actor, bool) {
	actor := httpmiddleware.Caller(c)
	if !actor.Is(types.RoleDriver) {
		writeError(c, http.StatusForbidden, "driver role required")
		return actor, false
	}
	return actor, true
}

func (h *DriverHandler) Me(c *gin.Context) {
	actor, ok := self(c)
	if !ok {
		return
	}
	p, err := h.drivers.Profile(c.Request.Context(), actor.ID)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, viewProfile(p))
}

func (h *DriverHandler) Eligibility(c *gin.Context) {
	actor, ok := self(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if _, err := h.drivers.Profile(ctx, actor.ID); err != nil {
		writeServiceError(c, err)
		return
	}
	e, err := h.drivers.Eligibility(ctx, actor.ID)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, e)
}

type activationReq struct {
	Activation driver.Activation `json:"activation"`
}

func (h *DriverHandler) SetActivation(c *gin.Context) {
	var req activationReq
	if err := c.ShouldBindJSON(&req); err != nil || !req.Activation.Valid() {
		writeError(c, http.StatusBadRequest, "activation must be active or inactive")
		return
	}
	actor := httpmiddleware.Caller(c)
	p, err := h.drivers.SetActivation(c.Request.Context(), actor, actor.ID, req.Activation)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, viewProfile(p))
}

type purchaseReq struct {
	Plan             string `json:"plan"`
	PaymentReference string `json:"payment_reference"`
}

func (h *DriverHandler) PurchaseSubscription(c *gin.Context) {
	var req purchaseReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	sub, err := h.payments.PurchaseSubscription(c.Request.Context(), httpmiddleware.Caller(c), req.Plan, req.PaymentReference)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, subscriptionView{ID: sub.ID, StartsAt: sub.StartsAt, EndsAt: sub.EndsAt})
}

func (h *DriverHandler) Withdraw(c *gin.Context) {
	actor := httpmiddleware.Caller(c)
	tx, err := h.settlement.Withdraw(c.Request.Context(), actor, actor.ID)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, viewTransaction(tx))
}

func (h *DriverHandler) Transactions(c *gin.Context) {
	actor, ok := self(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	txs, err := h.ledger.History(ctx, actor.ID, queryLimit(c, 50))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	earnings, err := h.ledger.Earnings(ctx, actor.ID)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	out := make([]transactionView, 0, len(txs))
	for i := range txs {
		out = append(out, viewTransaction(&txs[i]))
	}
	writeJSON(c, http.StatusOK, gin.H{"transactions": out, "net_earnings": earnings})
}
