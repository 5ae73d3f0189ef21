// README: Admin handlers for driver approval and direct credit grants.
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	httpmiddleware "zemi/internal/http/middleware"
	"zemi/internal/modules/driver"
	"zemi/internal/modules/ledger"
	"zemi/internal/types"
)

type AdminHandler struct {
	drivers *driver.Service
	ledger  *ledger.Service
}

func NewAdminHandler(drivers *driver.Service, ledgerSvc *ledger.Service) *AdminHandler {
	return &AdminHandler{drivers: drivers, ledger: ledgerSvc}
}

type approvalReq struct {
	Approval driver.Approval `json:"approval"`
}

func (h *AdminHandler) SetApproval(c *gin.Context) {
	var req approvalReq
	if err := c.ShouldBindJSON(&req); err != nil || !req.Approval.Valid() {
		writeError(c, http.StatusBadRequest, "approval must be pending, approved or rejected")
		return
	}
	p, err := h.drivers.SetApproval(c.Request.Context(), httpmiddleware.Caller(c), types.ID(c.Param("id")), req.Approval)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, viewProfile(p))
}

type grantCreditReq struct {
	ClientID     string `json:"client_id"`
	Trips        int    `json:"trips"`
	ValidityDays int    `json:"validity_days"`
	Reference    string `json:"reference"`
	AmountPaid   string `json:"amount_paid"`
}

func (h *AdminHandler) GrantCredit(c *gin.Context) {
	if !httpmiddleware.Caller(c).Is(types.RoleAdmin) {
		writeError(c, http.StatusForbidden, "admin role required")
		return
	}
	var req grantCreditReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	amount := decimal.Zero
	if req.AmountPaid != "" {
		var err error
		if amount, err = types.ParseAmount(req.AmountPaid); err != nil {
			writeError(c, http.StatusBadRequest, "invalid amount_paid")
			return
		}
	}
	g, err := h.ledger.GrantCredit(c.Request.Context(), ledger.GrantCommand{
		ClientID:     types.ID(req.ClientID),
		Trips:        req.Trips,
		ValidityDays: req.ValidityDays,
		Reference:    req.Reference,
		AmountPaid:   amount,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, viewGrant(g, time.Now()))
}
