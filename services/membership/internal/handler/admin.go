package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"example.com/membership-system/services/membership/internal/service"
	"example.com/membership-system/services/membership/internal/sweeper"
)

// SweepRunner — ручной запуск проверки истёкших членств.
type SweepRunner interface {
	Sweep(ctx context.Context) (sweeper.Report, error)
}

// AdminHandler — служебные маршруты администратора.
type AdminHandler struct {
	svc     service.MembershipService
	sweeper SweepRunner
}

// NewAdminHandler создаёт обработчик админских маршрутов. sweeper может быть nil.
func NewAdminHandler(svc service.MembershipService, sweeper SweepRunner) *AdminHandler {
	return &AdminHandler{svc: svc, sweeper: sweeper}
}

// GetTransaction возвращает запись журнала.
// GET /admin/transactions/:transactionId
func (h *AdminHandler) GetTransaction(c *gin.Context) {
	tx, err := h.svc.GetTransaction(c.Request.Context(), c.Param("transactionId"))
	if err != nil {
		respondError(c, "GetTransaction", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transaction": toTransactionResponse(tx)})
}

// GetMembership возвращает членство по member_id.
// GET /admin/memberships/:memberId
func (h *AdminHandler) GetMembership(c *gin.Context) {
	m, err := h.svc.GetMembership(c.Request.Context(), c.Param("memberId"))
	if err != nil {
		respondError(c, "GetMembership", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"membership": toMembershipResponse(m)})
}

// Reconcile повторно запрашивает статус платежа у шлюза.
// POST /admin/transactions/:transactionId/reconcile
func (h *AdminHandler) Reconcile(c *gin.Context) {
	out, err := h.svc.HandlePaymentCallback(c.Request.Context(), c.Param("transactionId"))
	if err != nil {
		respondError(c, "Reconcile", err)
		return
	}
	c.JSON(http.StatusOK, ReconcileResponse{
		TransactionID: out.TransactionID,
		Status:        string(out.Status),
		Duplicate:     out.Duplicate,
	})
}

// RunSweeper запускает проверку истёкших членств вне расписания.
// POST /admin/sweeper/run
func (h *AdminHandler) RunSweeper(c *gin.Context) {
	if h.sweeper == nil {
		abort(c, http.StatusServiceUnavailable, "service_unavailable", "Проверка истёкших членств отключена")
		return
	}

	report, err := h.sweeper.Sweep(c.Request.Context())
	if err != nil {
		if errors.Is(err, sweeper.ErrAlreadyRunning) {
			abort(c, http.StatusConflict, "already_running", err.Error())
			return
		}
		respondError(c, "RunSweeper", err)
		return
	}

	c.JSON(http.StatusOK, SweepResponse{
		Scanned: report.Scanned,
		Expired: report.Expired,
		Renewed: report.Renewed,
		Failed:  report.Failed,
	})
}
