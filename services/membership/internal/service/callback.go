package service

import (
	"context"
	"errors"
	"fmt"

	"example.com/membership-system/pkg/logger"
	"example.com/membership-system/pkg/metrics"
	"example.com/membership-system/services/membership/internal/domain"
	"example.com/membership-system/services/membership/internal/gateway"
	"example.com/membership-system/services/membership/internal/notification"
	"example.com/membership-system/services/membership/internal/repository"
)

// HandlePaymentCallback обрабатывает возврат плательщика со страницы шлюза.
//
// Единственная защита от параллельных повторов — условный UPDATE в журнале:
// переход pending -> completed/failed получает только один вызов, остальные
// видят transitioned == false и завершаются как дубликаты без побочных эффектов.
func (s *membershipService) HandlePaymentCallback(ctx context.Context, transactionID string) (*CallbackOutcome, error) {
	ctx = logger.WithTransactionID(ctx, transactionID)
	log := logger.Ctx(ctx)

	// 1. Транзакция обязана существовать
	tx, err := s.ledger.Find(ctx, s.store, transactionID)
	if err != nil {
		return nil, err
	}

	// 2. Терминальная транзакция — повторный callback
	if tx.PaymentStatus.IsTerminal() {
		return s.duplicate(ctx, tx), nil
	}

	// 3. Статус у шлюза; сбой связи оставляет транзакцию pending
	status, err := s.gateway.CheckStatus(ctx, transactionID)
	if err != nil {
		log.Warn().Err(err).Msg("Статус платежа не получен, транзакция остаётся pending")
		return nil, fmt.Errorf("ошибка запроса статуса платежа: %w", err)
	}

	if status.Pending() {
		s.logCallback(ctx, s.store, tx, status)
		log.Info().Str("code", status.Code).Msg("Платёж ещё в обработке")
		return &CallbackOutcome{
			TransactionID: tx.TransactionID,
			Type:          tx.Type,
			Status:        domain.PaymentStatusPending,
			MemberID:      tx.MemberID,
		}, nil
	}

	if status.Success {
		return s.applySuccess(ctx, tx, status)
	}
	return s.applyFailure(ctx, tx, status)
}

func (s *membershipService) duplicate(ctx context.Context, tx *domain.Transaction) *CallbackOutcome {
	metrics.DuplicateCallbacksTotal.Inc()
	logger.Ctx(ctx).Info().Str("status", string(tx.PaymentStatus)).Msg("Повторный callback, транзакция уже обработана")

	return &CallbackOutcome{
		TransactionID: tx.TransactionID,
		Type:          tx.Type,
		Status:        tx.PaymentStatus,
		Duplicate:     true,
		MemberID:      tx.MemberID,
	}
}

// lostRace перечитывает транзакцию, которую закрыл параллельный вызов,
// чтобы дубликат вернул фактический итоговый статус.
func (s *membershipService) lostRace(ctx context.Context, tx *domain.Transaction) *CallbackOutcome {
	current, err := s.ledger.Find(ctx, s.store, tx.TransactionID)
	if err != nil {
		logger.Ctx(ctx).Warn().Err(err).Msg("Не удалось перечитать транзакцию после параллельного callback")
		return s.duplicate(ctx, tx)
	}
	return s.duplicate(ctx, current)
}

// applySuccess фиксирует оплату, активирует членство и ставит письмо в outbox
// одной транзакцией БД. Справочник участников обновляется после commit.
func (s *membershipService) applySuccess(ctx context.Context, tx *domain.Transaction, status *gateway.ProviderStatus) (*CallbackOutcome, error) {
	log := logger.Ctx(ctx)

	var (
		transitioned bool
		activated    *domain.Membership
	)
	err := s.store.Atomic(ctx, func(st repository.Store) error {
		var err error
		transitioned, err = s.ledger.MarkCompleted(ctx, st, tx)
		if err != nil || !transitioned {
			return err
		}
		s.logCallback(ctx, st, tx, status)

		if !tx.Type.IsMembership() {
			return s.completeDonation(ctx, st, tx, notification.KindDonationSucceeded, domain.PaymentStatusCompleted)
		}

		m, err := st.Memberships().GetByTransactionID(ctx, tx.TransactionID)
		if err != nil {
			if errors.Is(err, domain.ErrMembershipNotFound) {
				log.Error().Msg("Оплата получена, но членство для транзакции не найдено, требуется ручная сверка")
				return nil
			}
			return err
		}

		// Две параллельные сессии взноса оплачены обе: действующим остаётся первое
		current, err := st.Memberships().FindCurrentByEmailPhone(ctx, m.Email, m.Phone)
		if err != nil {
			return err
		}
		if current.Status == domain.MembershipStatusActive && current.MemberID != m.MemberID {
			log.Error().
				Str("member_id", m.MemberID).
				Str("active_member_id", current.MemberID).
				Msg("Оплата получена, но для пары уже есть активное членство, требуется возврат")
			return nil
		}

		from := m.Status
		if err := m.Activate(s.now()); err != nil {
			log.Error().Str("status", string(from)).Msg("Оплата получена, но членство нельзя активировать, требуется ручная сверка")
			return nil
		}
		ok, err := st.Memberships().TransitionStatus(ctx, m, from)
		if err != nil {
			return err
		}
		if !ok {
			log.Error().Str("member_id", m.MemberID).Msg("Членство изменено параллельно, активация пропущена")
			return nil
		}
		metrics.MembershipTransitionsTotal.WithLabelValues(string(from), string(m.Status)).Inc()
		activated = m

		return s.emit(ctx, st, notification.Event{
			Kind:          notification.KindPaymentSucceeded,
			To:            m.Email,
			TransactionID: tx.TransactionID,
			MemberID:      m.MemberID,
			Amount:        tx.Amount.String(),
			ExpiryDate:    m.ExpiryDate,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка фиксации успешного платежа: %w", err)
	}
	if !transitioned {
		// Параллельный callback успел раньше
		return s.lostRace(ctx, tx), nil
	}

	if activated != nil {
		s.syncDirectory(ctx, activated)
		log.Info().
			Str("member_id", activated.MemberID).
			Time("expiry_date", *activated.ExpiryDate).
			Msg("Членство активировано")
	}

	return &CallbackOutcome{
		TransactionID: tx.TransactionID,
		Type:          tx.Type,
		Status:        domain.PaymentStatusCompleted,
		MemberID:      tx.MemberID,
	}, nil
}

// applyFailure фиксирует отказ. Членство взноса остаётся inactive;
// членство продления возвращается в expired, чтобы продление можно было повторить.
func (s *membershipService) applyFailure(ctx context.Context, tx *domain.Transaction, status *gateway.ProviderStatus) (*CallbackOutcome, error) {
	log := logger.Ctx(ctx)

	var transitioned bool
	err := s.store.Atomic(ctx, func(st repository.Store) error {
		var err error
		transitioned, err = s.ledger.MarkFailed(ctx, st, tx)
		if err != nil || !transitioned {
			return err
		}
		s.logCallback(ctx, st, tx, status)

		if !tx.Type.IsMembership() {
			return s.completeDonation(ctx, st, tx, notification.KindDonationFailed, domain.PaymentStatusFailed)
		}

		m, err := st.Memberships().GetByTransactionID(ctx, tx.TransactionID)
		if err != nil {
			if errors.Is(err, domain.ErrMembershipNotFound) {
				return nil
			}
			return err
		}
		if tx.Type == domain.TransactionTypeMembershipRenewal {
			if err := s.restoreExpired(ctx, st, m); err != nil {
				return err
			}
		}

		return s.emit(ctx, st, notification.Event{
			Kind:          notification.KindPaymentFailed,
			To:            m.Email,
			TransactionID: tx.TransactionID,
			MemberID:      m.MemberID,
			Amount:        tx.Amount.String(),
		})
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка фиксации неуспешного платежа: %w", err)
	}
	if !transitioned {
		return s.lostRace(ctx, tx), nil
	}

	log.Info().Str("code", status.Code).Msg("Платёж не прошёл")

	return &CallbackOutcome{
		TransactionID: tx.TransactionID,
		Type:          tx.Type,
		Status:        domain.PaymentStatusFailed,
		MemberID:      tx.MemberID,
	}, nil
}

// completeDonation переводит пожертвование в итоговый статус и ставит письмо донору.
func (s *membershipService) completeDonation(ctx context.Context, st repository.Store, tx *domain.Transaction, kind notification.Kind, to domain.PaymentStatus) error {
	if _, err := st.Donations().UpdateStatus(ctx, tx.TransactionID, to); err != nil {
		return err
	}
	d, err := st.Donations().GetByTransactionID(ctx, tx.TransactionID)
	if err != nil {
		if errors.Is(err, domain.ErrDonationNotFound) {
			return nil
		}
		return err
	}

	e := notification.Event{
		Kind:          kind,
		To:            d.DonorEmail,
		TransactionID: tx.TransactionID,
		Amount:        tx.Amount.String(),
	}
	if !d.IsAnonymous {
		e.Name = d.DonorName
	}
	return s.emit(ctx, st, e)
}

// restoreExpired возвращает членство продления в expired с прежней транзакцией.
func (s *membershipService) restoreExpired(ctx context.Context, st repository.Store, m *domain.Membership) error {
	if m.Status != domain.MembershipStatusInactive || m.PreviousTransactionID == "" {
		return nil
	}
	prev, err := st.Transactions().GetByTransactionID(ctx, m.PreviousTransactionID)
	if err != nil {
		return err
	}

	restored := *m
	if err := restored.RevertRenewal(prev.Amount); err != nil {
		return err
	}

	ok, err := st.Memberships().TransitionStatus(ctx, &restored, domain.MembershipStatusInactive)
	if err != nil {
		return err
	}
	if ok {
		metrics.MembershipTransitionsTotal.WithLabelValues(string(domain.MembershipStatusInactive), string(domain.MembershipStatusExpired)).Inc()
		*m = restored
	}
	return nil
}

// logCallback сохраняет ответ шлюза в отдельной точке сохранения.
// Ошибка записи журнала не прерывает обработку.
func (s *membershipService) logCallback(ctx context.Context, st repository.Store, tx *domain.Transaction, status *gateway.ProviderStatus) {
	err := st.Atomic(ctx, func(st repository.Store) error {
		return st.CallbackLogs().Create(ctx, &domain.CallbackLog{
			TransactionID: tx.TransactionID,
			Success:       status.Success,
			Code:          status.Code,
			Raw:           status.Raw,
		})
	})
	if err != nil {
		logger.Ctx(ctx).Warn().Err(err).Msg("Не удалось сохранить ответ шлюза")
	}
}
