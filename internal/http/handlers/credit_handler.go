// README: Client credit handlers for listing grants, plans and purchases.
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	httpmiddleware "zemi/internal/http/middleware"
	"zemi/internal/modules/ledger"
	"zemi/internal/modules/payment"
	"zemi/internal/types"
)

type CreditHandler struct {
	ledger   *ledger.Service
	payments *payment.Service
}

func NewCreditHandler(ledgerSvc *ledger.Service, payments *payment.Service) *CreditHandler {
	return &CreditHandler{ledger: ledgerSvc, payments: payments}
}

func (h *CreditHandler) List(c *gin.Context) {
	actor := httpmiddleware.Caller(c)
	if !actor.Is(types.RoleClient) {
		writeError(c, http.StatusForbidden, "client role required")
		return
	}
	grants, err := h.ledger.ListGrants(c.Request.Context(), actor.ID)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	now := time.Now()
	out := make([]grantView, 0, len(grants))
	for i := range grants {
		out = append(out, viewGrant(&grants[i], now))
	}
	writeJSON(c, http.StatusOK, gin.H{"grants": out})
}

func (h *CreditHandler) Purchase(c *gin.Context) {
	var req purchaseReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	g, err := h.payments.PurchaseCredit(c.Request.Context(), httpmiddleware.Caller(c), req.Plan, req.PaymentReference)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, viewGrant(g, time.Now()))
}

type planView struct {
	Code         string `json:"code"`
	Trips        int    `json:"trips,omitempty"`
	ValidityDays int    `json:"validity_days,omitempty"`
	Days         int    `json:"days,omitempty"`
	Price        string `json:"price"`
}

func (h *CreditHandler) Plans(c *gin.Context) {
	credits := []planView{}
	for _, p := range h.payments.CreditPlans() {
		credits = append(credits, planView{Code: p.Code, Trips: p.Trips, ValidityDays: p.ValidityDays, Price: p.Price.String()})
	}
	subs := []planView{}
	for _, p := range h.payments.SubscriptionPlans() {
		subs = append(subs, planView{Code: p.Code, Days: p.Days, Price: p.Price.String()})
	}
	writeJSON(c, http.StatusOK, gin.H{"credit_plans": credits, "subscription_plans": subs})
}
