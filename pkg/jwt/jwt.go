// Package jwt проверяет JWT токены (RS256) администраторов.
// Сервис членства токены не выдаёт: у него есть только публичный ключ
// издателя, которым проверяются подпись, издатель и срок действия.
package jwt

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"slices"

	"github.com/golang-jwt/jwt/v5"
)

// ErrForbidden — токен валиден, но у владельца нет нужной роли.
var ErrForbidden = errors.New("недостаточно прав")

// Claims содержит данные JWT токена.
type Claims struct {
	jwt.RegisteredClaims
	UserID string   `json:"user_id"`
	Role   string   `json:"role,omitempty"`
	Roles  []string `json:"roles,omitempty"`
}

// HasRole проверяет роль как в одиночном поле role, так и в списке roles.
func (c *Claims) HasRole(role string) bool {
	return c.Role == role || slices.Contains(c.Roles, role)
}

// Verifier проверяет токены публичным ключом издателя.
type Verifier struct {
	publicKey *rsa.PublicKey
	issuer    string
}

// Config содержит параметры для создания Verifier.
type Config struct {
	PublicKeyPath string // Путь к публичному ключу (PEM)
	Issuer        string // Ожидаемый издатель; пустой — не проверяется
}

// NewVerifier загружает публичный ключ и создаёт Verifier.
func NewVerifier(cfg Config) (*Verifier, error) {
	publicKey, err := LoadPublicKey(cfg.PublicKeyPath)
	if err != nil {
		return nil, fmt.Errorf("ошибка загрузки публичного ключа: %w", err)
	}
	return NewVerifierWithKey(publicKey, cfg.Issuer), nil
}

// NewVerifierWithKey создаёт Verifier из уже загруженного ключа.
func NewVerifierWithKey(publicKey *rsa.PublicKey, issuer string) *Verifier {
	return &Verifier{publicKey: publicKey, issuer: issuer}
}

// ValidateToken проверяет подпись, срок действия и издателя токена.
func (v *Verifier) ValidateToken(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(*jwt.Token) (any, error) {
		return v.publicKey, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("ошибка валидации токена: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("невалидные claims токена")
	}
	return claims, nil
}

// RequireRole валидирует токен и проверяет наличие роли.
func (v *Verifier) RequireRole(tokenString, role string) (*Claims, error) {
	claims, err := v.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	if role != "" && !claims.HasRole(role) {
		return nil, ErrForbidden
	}
	return claims, nil
}

// LoadPublicKey загружает RSA публичный ключ из PEM файла.
func LoadPublicKey(path string) (*rsa.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения файла %s: %w", path, err)
	}
	return ParsePublicKeyPEM(data)
}

// ParsePublicKeyPEM разбирает PKIX ("PUBLIC KEY") или PKCS#1 ("RSA PUBLIC KEY") ключ.
func ParsePublicKeyPEM(data []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("не удалось декодировать PEM блок")
	}

	if block.Type == "RSA PUBLIC KEY" {
		return x509.ParsePKCS1PublicKey(block.Bytes)
	}

	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("ошибка парсинга публичного ключа: %w", err)
	}

	rsaKey, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("ключ не является RSA публичным ключом")
	}
	return rsaKey, nil
}
