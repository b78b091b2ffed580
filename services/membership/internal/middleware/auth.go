// Package middleware содержит HTTP middleware API сервиса членства.
package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"example.com/membership-system/pkg/jwt"
	"example.com/membership-system/pkg/logger"
)

// adminIDKey — ключ gin.Context с ID проверенного администратора.
const adminIDKey = "admin_id"

// TokenVerifier проверяет JWT и роль. Реализация — *jwt.Verifier.
type TokenVerifier interface {
	RequireRole(tokenString, role string) (*jwt.Claims, error)
}

// AdminAuth закрывает маршруты отмены членства и /admin.
type AdminAuth struct {
	verifier TokenVerifier
	role     string
}

func NewAdminAuth(verifier TokenVerifier, role string) *AdminAuth {
	return &AdminAuth{verifier: verifier, role: role}
}

// Handle отвечает 401 без токена или с невалидным токеном и 403 без нужной роли.
func (a *AdminAuth) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			deny(c, http.StatusUnauthorized, "unauthorized", "Требуется авторизация")
			return
		}

		claims, err := a.verifier.RequireRole(token, a.role)
		switch {
		case errors.Is(err, jwt.ErrForbidden):
			logger.Ctx(c.Request.Context()).Warn().Msg("Недостаточно прав для админского маршрута")
			deny(c, http.StatusForbidden, "forbidden", "Недостаточно прав")
			return
		case err != nil:
			logger.Ctx(c.Request.Context()).Warn().Err(err).Msg("Токен администратора отклонён")
			deny(c, http.StatusUnauthorized, "unauthorized", "Невалидный токен")
			return
		}

		c.Set(adminIDKey, claims.UserID)
		c.Next()
	}
}

// AdminID возвращает ID администратора, прошедшего AdminAuth, или "".
func AdminID(c *gin.Context) string {
	return c.GetString(adminIDKey)
}

// bearerToken разбирает "Authorization: Bearer <token>", схема без учёта регистра.
func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func deny(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{"error": code, "message": message})
}
