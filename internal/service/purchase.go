package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/pkoshelev/studio-booking/internal/model"
	"github.com/pkoshelev/studio-booking/internal/repository"
	"github.com/pkoshelev/studio-booking/internal/validation"
)

// Состояние диалога покупки: заявка создана, ждём цифры платёжного поручения.
const dialogAwaitingReference = "awaiting_reference"

type referencePayload struct {
	OrderID int64 `json:"order_id"`
}

// CreateOrder создаёт заявку на покупку баллов и переводит диалог пользователя
// в ожидание номера платёжного поручения.
func (s *Service) CreateOrder(ctx context.Context, userID, points, amountCents int64) (*model.Order, error) {
	if points <= 0 {
		return nil, errors.New("points must be positive")
	}
	if amountCents <= 0 {
		return nil, errors.New("amount must be positive")
	}

	order, err := s.repo.CreateOrder(ctx, userID, points, amountCents)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(referencePayload{OrderID: order.ID})
	if err != nil {
		return nil, fmt.Errorf("marshal dialog payload: %w", err)
	}

	st := &model.DialogState{
		UserID:    userID,
		State:     dialogAwaitingReference,
		Payload:   payload,
		ExpiresAt: s.now().Add(s.windows.DialogTTL),
	}
	if err := s.repo.SaveDialogState(ctx, st); err != nil {
		// Заявка уже создана; диалог — вспомогательное состояние,
		// SubmitPaymentReference найдёт заявку и без него.
		s.logger.Warn("save dialog state failed", zap.Int64("userID", userID), zap.Error(err))
	}

	return order, nil
}

// SubmitPaymentReference принимает последние пять цифр платёжного поручения.
// Активная заявка определяется по состоянию диалога, а при его отсутствии —
// по незавершённой заявке пользователя.
func (s *Service) SubmitPaymentReference(ctx context.Context, userID int64, lastFive string) (*model.Order, error) {
	if !validation.IsValidReference(lastFive) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidReference, lastFive)
	}

	orderID, err := s.resolveActiveOrderID(ctx, userID)
	if err != nil {
		return nil, err
	}

	order, err := s.repo.SetOrderReference(ctx, orderID, lastFive)
	if err != nil {
		return nil, err
	}

	if err := s.repo.DeleteDialogState(ctx, userID); err != nil {
		s.logger.Warn("delete dialog state failed", zap.Int64("userID", userID), zap.Error(err))
	}

	s.logger.Info("payment reference submitted",
		zap.Int64("orderID", order.ID),
		zap.Int64("userID", order.UserID),
		zap.String("lastFive", lastFive),
	)

	return order, nil
}

func (s *Service) resolveActiveOrderID(ctx context.Context, userID int64) (int64, error) {
	st, err := s.repo.GetDialogState(ctx, userID, s.now())
	if err == nil && st.State == dialogAwaitingReference {
		var p referencePayload
		if err := json.Unmarshal(st.Payload, &p); err == nil && p.OrderID != 0 {
			return p.OrderID, nil
		}
	}
	if err != nil && !errors.Is(err, repository.ErrDialogNotFound) {
		return 0, err
	}

	order, err := s.repo.GetActiveOrderByUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	return order.ID, nil
}

// CancelOrder отменяет активную заявку пользователя.
func (s *Service) CancelOrder(ctx context.Context, userID int64) (*model.Order, error) {
	order, err := s.repo.CancelOrderByUser(ctx, userID, s.now())
	if err != nil {
		return nil, err
	}

	if err := s.repo.DeleteDialogState(ctx, userID); err != nil {
		s.logger.Warn("delete dialog state failed", zap.Int64("userID", userID), zap.Error(err))
	}

	return order, nil
}

// ConfirmOrder подтверждает оплату заявки и уведомляет пользователя о
// начислении.
func (s *Service) ConfirmOrder(ctx context.Context, orderID int64, actor string) (*model.Order, error) {
	order, err := s.repo.ConfirmOrder(ctx, orderID, s.now(), actor)
	if err != nil {
		return nil, err
	}

	s.notify(ctx, order.UserID,
		fmt.Sprintf("Оплата подтверждена: на ваш баланс начислено %d баллов.", order.Points))

	return order, nil
}

// RejectOrder отклоняет заявку и уведомляет пользователя.
func (s *Service) RejectOrder(ctx context.Context, orderID int64) (*model.Order, error) {
	order, err := s.repo.RejectOrder(ctx, orderID, s.now())
	if err != nil {
		return nil, err
	}

	s.notify(ctx, order.UserID,
		"Оплата не найдена, заявка на покупку баллов отклонена. Свяжитесь со студией, если считаете это ошибкой.")

	return order, nil
}

// ListPendingOrders возвращает заявки, ожидающие подтверждения оплаты.
func (s *Service) ListPendingOrders(ctx context.Context) ([]model.Order, error) {
	return s.repo.ListPendingOrders(ctx)
}
