package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// StartHousekeeping запускает фоновые регламентные проходы: отмену
// просроченных заявок, удаление прошедших занятий, напоминания и чистку
// истёкших диалогов.
func (s *Service) StartHousekeeping(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.runHousekeeping(ctx)
			}
		}
	}()
}

// runHousekeeping выполняет один регламентный проход. Каждый шаг — отдельная
// транзакция; сбой одного шага не мешает остальным.
func (s *Service) runHousekeeping(ctx context.Context) {
	now := s.now()

	expired, err := s.repo.ExpireStaleOrders(ctx, now, s.windows.OrderTimeout)
	if err != nil {
		s.logger.Error("expire stale orders", zap.Error(err))
	} else {
		for _, o := range expired {
			s.notify(ctx, o.UserID,
				"Заявка на покупку баллов отменена: подтверждение оплаты не поступило вовремя. Создайте новую заявку, если покупка ещё актуальна.")
		}
		if len(expired) > 0 {
			s.logger.Info("stale orders expired", zap.Int("count", len(expired)))
		}
	}

	purged, err := s.repo.PurgeExpiredCourses(ctx, now, s.windows.PurgeGrace)
	if err != nil {
		s.logger.Error("purge expired courses", zap.Error(err))
	} else if purged > 0 {
		s.logger.Info("expired courses purged", zap.Int64("count", purged))
	}

	reminders, err := s.repo.SweepReminders(ctx, now, s.windows.ReminderWindow)
	if err != nil {
		s.logger.Error("sweep reminders", zap.Error(err))
	} else {
		for _, rem := range reminders {
			text := fmt.Sprintf("Напоминание: занятие «%s» начнётся %s.",
				rem.Course.Title, rem.Course.Time.Format("02.01 в 15:04"))

			// Пользователь с несколькими местами получает одно напоминание.
			seen := make(map[int64]bool)
			for _, userID := range rem.Students {
				if seen[userID] {
					continue
				}
				seen[userID] = true
				s.notify(ctx, userID, text)
			}
		}
	}

	if _, err := s.repo.PurgeExpiredDialogStates(ctx, now); err != nil {
		s.logger.Error("purge dialog states", zap.Error(err))
	}
}
