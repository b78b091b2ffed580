package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"example.com/membership-system/pkg/idgen"
	"example.com/membership-system/pkg/logger"
	"example.com/membership-system/services/membership/internal/domain"
	"example.com/membership-system/services/membership/internal/gateway"
	"example.com/membership-system/services/membership/internal/notification"
	"example.com/membership-system/services/membership/internal/repository"
)

// InitiateFeePayment создаёт членство и платёжную сессию для взноса.
func (s *membershipService) InitiateFeePayment(ctx context.Context, req FeePaymentRequest) (*PaymentInitiation, error) {
	email := domain.NormalizeEmail(req.Email)
	phone := domain.NormalizePhone(req.Phone)

	if err := domain.ValidateTerms(req.Amount, req.ValidityMonths); err != nil {
		return nil, err
	}
	if err := domain.ValidateContact(email, phone); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Type) == "" {
		return nil, domain.NewValidationError("type", "обязателен")
	}

	// 1. Действующее членство для пары (email, phone) блокирует новый взнос
	existing, err := s.store.Memberships().FindCurrentByEmailPhone(ctx, email, phone)
	switch {
	case err == nil:
		switch existing.Status {
		case domain.MembershipStatusActive:
			return nil, domain.Precondition("членство %s уже активно", existing.MemberID)
		case domain.MembershipStatusExpired:
			return nil, domain.Precondition("членство %s истекло, используйте продление", existing.MemberID)
		}
	case !errors.Is(err, domain.ErrMembershipNotFound):
		return nil, err
	}

	// 2. Транзакция и членство создаются вместе; конфликт member_id -> новый ID
	var (
		tx         *domain.Transaction
		membership *domain.Membership
	)
	_, err = idgen.Retry(ctx, s.ids.NewMemberID, isDuplicateMember, func(memberID string) error {
		return s.store.Atomic(ctx, func(st repository.Store) error {
			var err error
			tx, err = s.ledger.Open(ctx, st, domain.TransactionTypeMembershipFees, req.Amount, memberID)
			if err != nil {
				return err
			}
			membership = &domain.Membership{
				MemberID:       memberID,
				Email:          email,
				Phone:          phone,
				TransactionID:  tx.TransactionID,
				Type:           req.Type,
				Fee:            req.Amount,
				ValidityMonths: req.ValidityMonths,
				Status:         domain.MembershipStatusInactive,
			}
			return st.Memberships().Create(ctx, membership)
		})
	})
	if err != nil {
		if errors.Is(err, idgen.ErrExhausted) {
			return nil, fmt.Errorf("%w: %v", domain.ErrTemporarilyUnavailable, err)
		}
		return nil, err
	}

	ctx = logger.WithTransactionID(ctx, tx.TransactionID)
	log := logger.Ctx(ctx)

	// 3. Платёжная сессия; без URL записи откатываются
	paymentURL, err := s.gateway.Initiate(ctx, gateway.InitiateRequest{
		TransactionID: tx.TransactionID,
		PayerID:       membership.MemberID,
		Amount:        req.Amount,
		PayerPhone:    phone,
		RedirectURL:   s.cfg.CallbackBaseURL,
	})
	if err != nil {
		s.compensateFee(ctx, tx, membership.MemberID)
		return nil, fmt.Errorf("ошибка инициации платежа: %w", err)
	}

	log.Info().
		Str("member_id", membership.MemberID).
		Str("amount", req.Amount.String()).
		Int("validity_months", req.ValidityMonths).
		Msg("Платёж членского взноса инициирован")

	s.emitBestEffort(ctx, notification.Event{
		Kind:          notification.KindPaymentInitiated,
		To:            email,
		TransactionID: tx.TransactionID,
		MemberID:      membership.MemberID,
		Amount:        req.Amount.String(),
		PaymentURL:    paymentURL,
	})

	return &PaymentInitiation{
		PaymentURL:    paymentURL,
		TransactionID: tx.TransactionID,
		MemberID:      membership.MemberID,
	}, nil
}

// compensateFee закрывает транзакцию как failed и удаляет членство без платёжной сессии.
func (s *membershipService) compensateFee(ctx context.Context, tx *domain.Transaction, memberID string) {
	err := s.store.Atomic(ctx, func(st repository.Store) error {
		if _, err := s.ledger.MarkFailed(ctx, st, tx); err != nil {
			return err
		}
		return st.Memberships().Delete(ctx, memberID)
	})
	if err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("member_id", memberID).Msg("Ошибка компенсации неудачной инициации платежа")
		return
	}
	logger.Ctx(ctx).Warn().Str("member_id", memberID).Msg("Инициация платежа не удалась, записи откатаны")
}

// InitiateDonation создаёт пожертвование и платёжную сессию для него.
func (s *membershipService) InitiateDonation(ctx context.Context, req DonationRequest) (*DonationInitiation, error) {
	donation := &domain.Donation{
		DonorName:   strings.TrimSpace(req.DonorName),
		DonorEmail:  domain.NormalizeEmail(req.DonorEmail),
		DonorPhone:  domain.NormalizePhone(req.DonorPhone),
		Amount:      req.Amount,
		Purpose:     strings.TrimSpace(req.Purpose),
		IsAnonymous: req.IsAnonymous,
	}
	if err := donation.Validate(); err != nil {
		return nil, err
	}

	var tx *domain.Transaction
	err := s.store.Atomic(ctx, func(st repository.Store) error {
		var err error
		tx, err = s.ledger.Open(ctx, st, domain.TransactionTypeDonation, donation.Amount, "")
		if err != nil {
			return err
		}
		donation.TransactionID = tx.TransactionID
		return st.Donations().Create(ctx, donation)
	})
	if err != nil {
		return nil, err
	}

	ctx = logger.WithTransactionID(ctx, tx.TransactionID)

	paymentURL, err := s.gateway.Initiate(ctx, gateway.InitiateRequest{
		TransactionID: tx.TransactionID,
		PayerID:       donation.ID,
		Amount:        donation.Amount,
		PayerPhone:    donation.DonorPhone,
		RedirectURL:   s.cfg.DonationCallbackBaseURL,
	})
	if err != nil {
		cerr := s.store.Atomic(ctx, func(st repository.Store) error {
			if _, err := s.ledger.MarkFailed(ctx, st, tx); err != nil {
				return err
			}
			_, err := st.Donations().UpdateStatus(ctx, tx.TransactionID, domain.PaymentStatusFailed)
			return err
		})
		if cerr != nil {
			logger.Ctx(ctx).Error().Err(cerr).Msg("Ошибка компенсации неудачной инициации пожертвования")
		}
		return nil, fmt.Errorf("ошибка инициации платежа: %w", err)
	}

	logger.Ctx(ctx).Info().Str("amount", donation.Amount.String()).Msg("Платёж пожертвования инициирован")

	return &DonationInitiation{PaymentURL: paymentURL, TransactionID: tx.TransactionID}, nil
}

func isDuplicateMember(err error) bool {
	return errors.Is(err, domain.ErrDuplicateMemberID)
}
