package domain

import (
	"net/mail"
	"strings"
)

// Member — профиль участника из справочника. Сервис членства меняет только
// MembershipStatus и MemberID, остальные поля принадлежат справочнику.
type Member struct {
	ID               string
	FullName         string
	Email            string
	Phone            string
	MembershipType   string
	MembershipStatus MembershipStatus
	MemberID         string
}

// NormalizeEmail приводит email к виду, в котором он хранится.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NormalizePhone удаляет пробелы, дефисы и ведущий +91.
func NormalizePhone(phone string) string {
	p := strings.NewReplacer(" ", "", "-", "").Replace(strings.TrimSpace(phone))
	if strings.HasPrefix(p, "+91") && len(p) == 13 {
		p = p[3:]
	}
	return p
}

// ValidateContact проверяет email и телефон (10 цифр).
func ValidateContact(email, phone string) error {
	if email == "" {
		return NewValidationError("email", "обязателен")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return NewValidationError("email", "некорректный адрес")
	}
	if len(phone) != 10 {
		return NewValidationError("mobileNumber", "должен содержать 10 цифр")
	}
	for _, r := range phone {
		if r < '0' || r > '9' {
			return NewValidationError("mobileNumber", "должен содержать только цифры")
		}
	}
	return nil
}
