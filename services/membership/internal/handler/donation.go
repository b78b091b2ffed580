package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"example.com/membership-system/services/membership/internal/service"
)

// DonationHandler — обработчик пожертвований.
type DonationHandler struct {
	svc service.MembershipService
}

// NewDonationHandler создаёт обработчик пожертвований.
func NewDonationHandler(svc service.MembershipService) *DonationHandler {
	return &DonationHandler{svc: svc}
}

// Create инициирует пожертвование.
// POST /donation
func (h *DonationHandler) Create(c *gin.Context) {
	var req DonationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	init, err := h.svc.InitiateDonation(c.Request.Context(), service.DonationRequest{
		DonorName:   req.DonorName,
		DonorEmail:  req.DonorEmail,
		DonorPhone:  req.DonorPhone,
		Amount:      req.Amount,
		Purpose:     req.Purpose,
		IsAnonymous: req.IsAnonymous,
	})
	if err != nil {
		respondError(c, "CreateDonation", err)
		return
	}

	c.JSON(http.StatusOK, DonationResponse{
		PaymentURL:    init.PaymentURL,
		TransactionID: init.TransactionID,
	})
}
