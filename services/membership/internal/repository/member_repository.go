package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"example.com/membership-system/services/membership/internal/domain"
)

// MemberRepository — справочник участников. Сервис членства читает участника
// только по (email, phone) и пишет только membership_status и member_id.
type MemberRepository interface {
	Create(ctx context.Context, m *domain.Member) error
	FindByEmailPhone(ctx context.Context, email, phone string) (*domain.Member, error)
	UpdateStatus(ctx context.Context, id string, status domain.MembershipStatus, memberID string) error
}

type memberRepository struct {
	db *gorm.DB
}

// NewMemberRepository создаёт репозиторий справочника участников.
func NewMemberRepository(db *gorm.DB) MemberRepository {
	return &memberRepository{db: db}
}

func (r *memberRepository) Create(ctx context.Context, m *domain.Member) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.MembershipStatus == "" {
		m.MembershipStatus = domain.MembershipStatusInactive
	}
	model := &MemberModel{
		ID:               m.ID,
		FullName:         m.FullName,
		Email:            m.Email,
		Phone:            m.Phone,
		MembershipType:   m.MembershipType,
		MembershipStatus: string(m.MembershipStatus),
	}
	if m.MemberID != "" {
		model.MemberID = &m.MemberID
	}
	return r.db.WithContext(ctx).Create(model).Error
}

func (r *memberRepository) FindByEmailPhone(ctx context.Context, email, phone string) (*domain.Member, error) {
	var model MemberModel

	if err := r.db.WithContext(ctx).
		Where("email = ? AND phone = ?", email, phone).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrMemberNotFound
		}
		return nil, err
	}

	return model.toDomain(), nil
}

func (r *memberRepository) UpdateStatus(ctx context.Context, id string, status domain.MembershipStatus, memberID string) error {
	result := r.db.WithContext(ctx).
		Model(&MemberModel{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"membership_status": string(status),
			"member_id":         memberID,
			"updated_at":        time.Now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrMemberNotFound
	}
	return nil
}
