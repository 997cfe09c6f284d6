// Package email отправляет уведомления площадки по SMTP.
package email

import (
	"context"

	"freight-market/internal/logger"
)

// Email - одно письмо
type Email struct {
	To       []string
	From     string
	Subject  string
	TextBody string
	HTMLBody string
	Headers  map[string]string
}

// Sender отправляет письма; возвращает идентификатор сообщения
type Sender interface {
	Send(ctx context.Context, email *Email) (string, error)
}

// LogSender только логирует письма (EMAIL_ENABLED=false)
type LogSender struct {
	log *logger.Logger
}

// NewLogSender создает отправителя-заглушку
func NewLogSender(log *logger.Logger) *LogSender {
	return &LogSender{log: log}
}

// Send пишет письмо в лог
func (s *LogSender) Send(_ context.Context, email *Email) (string, error) {
	s.log.WithFields(map[string]interface{}{
		"to":      email.To,
		"subject": email.Subject,
	}).Info("Email delivery disabled, message logged")
	return "", nil
}
