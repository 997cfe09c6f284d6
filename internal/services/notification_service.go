package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"freight-market/internal/config"
	"freight-market/internal/database"
	"freight-market/internal/email"
	"freight-market/internal/kafka"
	"freight-market/internal/logger"
	"freight-market/internal/metrics"
	"freight-market/internal/models"
)

type eventRegistrar interface {
	RegisterHandler(eventType models.EventType, handler kafka.EventHandler)
}

// NotificationService превращает доменные события в письма.
type NotificationService struct {
	db      *database.DB
	sender  email.Sender
	log     *logger.Logger
	cfg     *config.EmailConfig
	metrics *metrics.Metrics
}

// NewNotificationService создает сервис уведомлений. m может быть nil.
func NewNotificationService(db *database.DB, sender email.Sender, log *logger.Logger, cfg *config.EmailConfig, m *metrics.Metrics) *NotificationService {
	return &NotificationService{
		db:      db,
		sender:  sender,
		log:     log,
		cfg:     cfg,
		metrics: m,
	}
}

// Register подписывает обработчики на события.
func (s *NotificationService) Register(r eventRegistrar) {
	r.RegisterHandler(models.EventTypeCompanyRegistered, s.onCompanyRegistered)
	r.RegisterHandler(models.EventTypeCompanyModerated, s.onCompanyModerated)
	r.RegisterHandler(models.EventTypeMandatCreated, s.onMandatCreated)
	r.RegisterHandler(models.EventTypeMandatModerated, s.onMandatUpdated)
	r.RegisterHandler(models.EventTypeMandatClaimed, s.onMandatUpdated)
	r.RegisterHandler(models.EventTypeMandatStatusChanged, s.onMandatUpdated)
	r.RegisterHandler(models.EventTypeMemberInvited, s.onMemberInvited)
}

func (s *NotificationService) onCompanyRegistered(ctx context.Context, event *models.Event) error {
	var data models.CompanyEventData
	if err := json.Unmarshal(event.Data, &data); err != nil {
		return fmt.Errorf("failed to decode company event: %w", err)
	}
	return s.deliver(ctx, event, s.cfg.AdminAddress, email.CompanyRegistered{
		CompanyName: data.Name,
		CompanyType: string(data.Type),
		Contact:     data.ContactEmail,
		AdminURL:    s.url("/admin/companies/" + data.CompanyID.String()),
	})
}

func (s *NotificationService) onCompanyModerated(ctx context.Context, event *models.Event) error {
	var data models.CompanyEventData
	if err := json.Unmarshal(event.Data, &data); err != nil {
		return fmt.Errorf("failed to decode company event: %w", err)
	}
	msg := email.CompanyModerated{
		CompanyName: data.Name,
		Status:      string(data.Status),
		AppURL:      s.url("/"),
	}
	if data.Reason != nil {
		msg.Reason = *data.Reason
	}
	return s.deliver(ctx, event, data.ContactEmail, msg)
}

func (s *NotificationService) onMandatCreated(ctx context.Context, event *models.Event) error {
	var data models.MandatEventData
	if err := json.Unmarshal(event.Data, &data); err != nil {
		return fmt.Errorf("failed to decode mandat event: %w", err)
	}
	return s.deliver(ctx, event, s.cfg.AdminAddress, email.MandatCreated{
		MandatID:        data.MandatID.String(),
		PickupAddress:   data.PickupAddress,
		DeliveryAddress: data.DeliveryAddress,
		PrixEstimeTTC:   data.PrixEstimeTTC,
		AdminURL:        s.url("/admin/mandats/" + data.MandatID.String()),
	})
}

// onMandatUpdated сообщает экспедитору о модерации, взятии и ходе доставки.
func (s *NotificationService) onMandatUpdated(ctx context.Context, event *models.Event) error {
	var data models.MandatEventData
	if err := json.Unmarshal(event.Data, &data); err != nil {
		return fmt.Errorf("failed to decode mandat event: %w", err)
	}

	to, err := s.companyContact(ctx, data.ExpediteurCompanyID.String())
	if err != nil {
		s.metrics.Notification(string(event.Type), err)
		return err
	}

	msg := email.MandatUpdated{
		MandatID:        data.MandatID.String(),
		PickupAddress:   data.PickupAddress,
		DeliveryAddress: data.DeliveryAddress,
		Status:          string(data.NewStatus),
		MandatURL:       s.url("/mandats/" + data.MandatID.String()),
	}
	if data.Note != nil {
		msg.Note = *data.Note
	}
	return s.deliver(ctx, event, to, msg)
}

func (s *NotificationService) onMemberInvited(ctx context.Context, event *models.Event) error {
	var data models.MemberEventData
	if err := json.Unmarshal(event.Data, &data); err != nil {
		return fmt.Errorf("failed to decode member event: %w", err)
	}
	if data.Token == nil {
		return fmt.Errorf("invitation event %s has no token", event.ID)
	}
	return s.deliver(ctx, event, data.Email, email.MemberInvited{
		CompanyName: data.CompanyName,
		AcceptURL:   s.url("/invitations/" + data.Token.String()),
	})
}

func (s *NotificationService) deliver(ctx context.Context, event *models.Event, to string, msg email.Message) error {
	if strings.TrimSpace(to) == "" {
		s.log.WithField("event_type", event.Type).Warn("Notification skipped: no recipient")
		return nil
	}

	mail, err := email.Render([]string{to}, msg)
	if err == nil {
		_, err = s.sender.Send(ctx, mail)
	}
	s.metrics.Notification(string(event.Type), err)
	if err != nil {
		return fmt.Errorf("failed to notify %s: %w", event.Type, err)
	}

	s.log.WithFields(map[string]interface{}{
		"event_id":   event.ID,
		"event_type": event.Type,
		"to":         to,
	}).Info("Notification sent")
	return nil
}

func (s *NotificationService) companyContact(ctx context.Context, companyID string) (string, error) {
	var contact string
	err := s.db.QueryRowContext(ctx, `SELECT contact_email FROM companies WHERE id = $1`, companyID).Scan(&contact)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("company %s not found", companyID)
		}
		return "", fmt.Errorf("failed to get company contact: %w", err)
	}
	return contact, nil
}

func (s *NotificationService) url(path string) string {
	return strings.TrimRight(s.cfg.AppBaseURL, "/") + path
}
