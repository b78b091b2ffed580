package handler

import (
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"

	"example.com/membership-system/pkg/logger"
	"example.com/membership-system/services/membership/internal/domain"
	"example.com/membership-system/services/membership/internal/middleware"
	"example.com/membership-system/services/membership/internal/service"
)

// defaultMembershipType подставляется, если клиент не передал тип членства.
const defaultMembershipType = "general"

// RedirectURLs — страницы, куда отправляется браузер плательщика после callback.
type RedirectURLs struct {
	Success string
	Failure string
	// Pending — страница «платёж обрабатывается»; пустая — используется Failure.
	Pending string
}

// MembershipHandler — обработчик членства, платежей и сверки профиля.
type MembershipHandler struct {
	svc       service.MembershipService
	redirects RedirectURLs
}

// NewMembershipHandler создаёт обработчик членства.
func NewMembershipHandler(svc service.MembershipService, redirects RedirectURLs) *MembershipHandler {
	return &MembershipHandler{svc: svc, redirects: redirects}
}

// CreateFeePayment инициирует оплату членского взноса.
// POST /membership
func (h *MembershipHandler) CreateFeePayment(c *gin.Context) {
	var req FeePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if req.Type == "" {
		req.Type = defaultMembershipType
	}

	init, err := h.svc.InitiateFeePayment(c.Request.Context(), service.FeePaymentRequest{
		Amount:         req.Amount,
		ValidityMonths: req.Validity,
		Email:          req.Email,
		Phone:          req.MobileNumber,
		Type:           req.Type,
	})
	if err != nil {
		respondError(c, "CreateFeePayment", err)
		return
	}

	c.JSON(http.StatusOK, PaymentInitiationResponse{
		PaymentPageURL: init.PaymentURL,
		TransactionID:  init.TransactionID,
		MemberID:       init.MemberID,
	})
}

// PaymentCallback принимает возврат плательщика со страницы шлюза и перенаправляет
// браузер на страницу результата. Повторный вызов перенаправляет на ту же страницу.
// GET|POST /membership/payment/status/:transactionId
func (h *MembershipHandler) PaymentCallback(c *gin.Context) {
	transactionID := c.Param("transactionId")
	if transactionID == "" {
		abort(c, http.StatusBadRequest, "invalid_argument", "transactionId обязателен")
		return
	}

	out, err := h.svc.HandlePaymentCallback(c.Request.Context(), transactionID)
	if err != nil {
		respondError(c, "PaymentCallback", err)
		return
	}

	c.Redirect(http.StatusFound, h.redirectFor(out))
}

func (h *MembershipHandler) redirectFor(out *service.CallbackOutcome) string {
	target := h.redirects.Failure
	switch out.Status {
	case domain.PaymentStatusCompleted:
		target = h.redirects.Success
	case domain.PaymentStatusPending:
		if h.redirects.Pending != "" {
			target = h.redirects.Pending
		}
	}

	u, err := url.Parse(target)
	if err != nil {
		return target
	}
	q := u.Query()
	q.Set("transactionId", out.TransactionID)
	u.RawQuery = q.Encode()
	return u.String()
}

// Renew продлевает истёкшее членство.
// POST /membership/renew
func (h *MembershipHandler) Renew(c *gin.Context) {
	var req RenewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	res, err := h.svc.Renew(c.Request.Context(), service.RenewRequest{
		MemberID:       req.MemberID,
		Email:          req.Email,
		Phone:          req.MobileNumber,
		Amount:         req.Amount,
		ValidityMonths: req.Validity,
	})
	if err != nil {
		respondError(c, "Renew", err)
		return
	}

	c.JSON(http.StatusOK, RenewalResponse{
		Membership:     toMembershipResponse(res.Membership),
		PaymentPageURL: res.PaymentURL,
		TransactionID:  res.TransactionID,
	})
}

// Cancel отменяет активное членство.
// POST /membership/cancel
func (h *MembershipHandler) Cancel(c *gin.Context) {
	var req CancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	m, err := h.svc.Cancel(c.Request.Context(), req.MemberID)
	if err != nil {
		respondError(c, "Cancel", err)
		return
	}

	logger.Ctx(c.Request.Context()).Info().
		Str("member_id", m.MemberID).
		Str("admin_id", middleware.AdminID(c)).
		Msg("Членство отменено администратором")

	c.JSON(http.StatusOK, gin.H{"membership": toMembershipResponse(m)})
}

// CheckMembership сверяет членство с профилем участника.
// POST /member/check-membership
func (h *MembershipHandler) CheckMembership(c *gin.Context) {
	var req CheckMembershipRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	res, err := h.svc.CheckMembership(c.Request.Context(), req.Email, req.Phone)
	if err != nil {
		respondError(c, "CheckMembership", err)
		return
	}

	resp := CheckMembershipResponse{
		Status:   string(res.Status),
		MemberID: res.Membership.MemberID,
	}
	if res.Member != nil {
		resp.Member = toMemberResponse(res.Member)
	}
	c.JSON(http.StatusOK, resp)
}
