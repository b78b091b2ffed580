package service

import (
	"context"
	"fmt"

	"example.com/membership-system/pkg/logger"
	"example.com/membership-system/pkg/metrics"
	"example.com/membership-system/services/membership/internal/domain"
	"example.com/membership-system/services/membership/internal/gateway"
	"example.com/membership-system/services/membership/internal/notification"
	"example.com/membership-system/services/membership/internal/repository"
)

// Renew допускается только из expired. Из любого другого статуса
// возвращается ErrPreconditionFailed, и ничего не меняется.
// Email и телефон запроса должны совпадать с членством, иначе ErrMembershipNotFound.
func (s *membershipService) Renew(ctx context.Context, req RenewRequest) (*RenewalResult, error) {
	if req.MemberID == "" {
		return nil, domain.NewValidationError("memberId", "обязателен")
	}
	if err := domain.ValidateTerms(req.Amount, req.ValidityMonths); err != nil {
		return nil, err
	}
	email := domain.NormalizeEmail(req.Email)
	phone := domain.NormalizePhone(req.Phone)
	if err := domain.ValidateContact(email, phone); err != nil {
		return nil, err
	}

	m, err := s.store.Memberships().GetByMemberID(ctx, req.MemberID)
	if err != nil {
		return nil, err
	}
	// Чужой member_id неотличим от несуществующего
	if domain.NormalizeEmail(m.Email) != email || domain.NormalizePhone(m.Phone) != phone {
		return nil, domain.ErrMembershipNotFound
	}
	if m.Status != domain.MembershipStatusExpired {
		return nil, domain.Precondition("продление возможно только для истёкшего членства, текущий статус %s", m.Status)
	}

	// 1. Новая транзакция и expired -> inactive одной транзакцией БД
	var tx *domain.Transaction
	err = s.store.Atomic(ctx, func(st repository.Store) error {
		var err error
		tx, err = s.ledger.Open(ctx, st, domain.TransactionTypeMembershipRenewal, req.Amount, m.MemberID)
		if err != nil {
			return err
		}
		if err := m.AttachRenewal(tx.TransactionID, req.Amount, req.ValidityMonths); err != nil {
			return err
		}
		ok, err := st.Memberships().TransitionStatus(ctx, m, domain.MembershipStatusExpired)
		if err != nil {
			return err
		}
		if !ok {
			return domain.Precondition("членство %s изменено параллельно", m.MemberID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.MembershipTransitionsTotal.WithLabelValues(string(domain.MembershipStatusExpired), string(domain.MembershipStatusInactive)).Inc()

	ctx = logger.WithTransactionID(ctx, tx.TransactionID)
	log := logger.Ctx(ctx)

	// 2. Платёжная сессия; при сбое членство возвращается в expired
	paymentURL, err := s.gateway.Initiate(ctx, gateway.InitiateRequest{
		TransactionID: tx.TransactionID,
		PayerID:       m.MemberID,
		Amount:        req.Amount,
		PayerPhone:    m.Phone,
		RedirectURL:   s.cfg.CallbackBaseURL,
	})
	if err != nil {
		cerr := s.store.Atomic(ctx, func(st repository.Store) error {
			if _, err := s.ledger.MarkFailed(ctx, st, tx); err != nil {
				return err
			}
			return s.restoreExpired(ctx, st, m)
		})
		if cerr != nil {
			log.Error().Err(cerr).Str("member_id", m.MemberID).Msg("Ошибка компенсации неудачного продления")
		}
		return nil, fmt.Errorf("ошибка инициации платежа: %w", err)
	}

	log.Info().
		Str("member_id", m.MemberID).
		Str("amount", req.Amount.String()).
		Int("validity_months", req.ValidityMonths).
		Msg("Продление членства инициировано")

	s.emitBestEffort(ctx, notification.Event{
		Kind:          notification.KindRenewalInitiated,
		To:            m.Email,
		TransactionID: tx.TransactionID,
		MemberID:      m.MemberID,
		Amount:        req.Amount.String(),
		PaymentURL:    paymentURL,
	})

	return &RenewalResult{Membership: m, PaymentURL: paymentURL, TransactionID: tx.TransactionID}, nil
}

// Cancel допускается только из active.
func (s *membershipService) Cancel(ctx context.Context, memberID string) (*domain.Membership, error) {
	if memberID == "" {
		return nil, domain.NewValidationError("memberId", "обязателен")
	}

	m, err := s.store.Memberships().GetByMemberID(ctx, memberID)
	if err != nil {
		return nil, err
	}
	if m.Status != domain.MembershipStatusActive {
		return nil, domain.Precondition("отменить можно только активное членство, текущий статус %s", m.Status)
	}
	if err := m.TransitionTo(domain.MembershipStatusCanceled); err != nil {
		return nil, err
	}

	err = s.store.Atomic(ctx, func(st repository.Store) error {
		ok, err := st.Memberships().TransitionStatus(ctx, m, domain.MembershipStatusActive)
		if err != nil {
			return err
		}
		if !ok {
			return domain.Precondition("членство %s изменено параллельно", memberID)
		}
		return s.emit(ctx, st, notification.Event{
			Kind:     notification.KindMembershipCanceled,
			To:       m.Email,
			MemberID: m.MemberID,
		})
	})
	if err != nil {
		return nil, err
	}

	metrics.MembershipTransitionsTotal.WithLabelValues(string(domain.MembershipStatusActive), string(domain.MembershipStatusCanceled)).Inc()
	s.syncDirectory(ctx, m)
	logger.Ctx(ctx).Info().Str("member_id", memberID).Msg("Членство отменено")

	return m, nil
}

// ExpireMembership переводит active -> expired условным UPDATE и ставит письмо в outbox.
func (s *membershipService) ExpireMembership(ctx context.Context, current *domain.Membership) (bool, error) {
	m := *current
	if err := m.TransitionTo(domain.MembershipStatusExpired); err != nil {
		return false, nil
	}

	var transitioned bool
	err := s.store.Atomic(ctx, func(st repository.Store) error {
		var err error
		transitioned, err = st.Memberships().TransitionStatus(ctx, &m, domain.MembershipStatusActive)
		if err != nil || !transitioned {
			return err
		}
		return s.emit(ctx, st, notification.Event{
			Kind:       notification.KindMembershipExpired,
			To:         m.Email,
			MemberID:   m.MemberID,
			ExpiryDate: m.ExpiryDate,
		})
	})
	if err != nil {
		return false, fmt.Errorf("ошибка перевода членства %s в expired: %w", m.MemberID, err)
	}
	if !transitioned {
		return false, nil
	}

	metrics.MembershipTransitionsTotal.WithLabelValues(string(domain.MembershipStatusActive), string(domain.MembershipStatusExpired)).Inc()
	s.syncDirectory(ctx, &m)
	*current = m
	return true, nil
}

// CheckMembership ищет действующее членство по (email, phone). Для активного
// членства member_id и статус копируются в профиль участника; для остальных
// статусов профиль не меняется.
func (s *membershipService) CheckMembership(ctx context.Context, email, phone string) (*CheckResult, error) {
	email = domain.NormalizeEmail(email)
	phone = domain.NormalizePhone(phone)
	if err := domain.ValidateContact(email, phone); err != nil {
		return nil, err
	}

	m, err := s.store.Memberships().FindCurrentByEmailPhone(ctx, email, phone)
	if err != nil {
		return nil, err
	}
	if m.Status != domain.MembershipStatusActive {
		return &CheckResult{Status: m.Status, Membership: m}, nil
	}

	member, err := s.store.Members().FindByEmailPhone(ctx, email, phone)
	if err != nil {
		return nil, err
	}
	if member.MembershipStatus != domain.MembershipStatusActive || member.MemberID != m.MemberID {
		if err := s.store.Members().UpdateStatus(ctx, member.ID, domain.MembershipStatusActive, m.MemberID); err != nil {
			return nil, err
		}
		member.MembershipStatus = domain.MembershipStatusActive
		member.MemberID = m.MemberID
	}

	return &CheckResult{Status: m.Status, Membership: m, Member: member}, nil
}
