package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"freight-market/internal/config"
	"freight-market/internal/logger"
	"freight-market/internal/models"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
)

const eventSource = "freight-market"

// Producer публикует доменные события в Kafka
type Producer struct {
	producer sarama.SyncProducer
	log      *logger.Logger
	topics   *config.Topics
}

// NewProducer создает синхронного продюсера
func NewProducer(cfg *config.KafkaConfig, log *logger.Logger) (*Producer, error) {
	saramaCfg := sarama.NewConfig()
	saramaCfg.Producer.RequiredAcks = sarama.WaitForAll
	saramaCfg.Producer.Retry.Max = 3
	saramaCfg.Producer.Return.Successes = true
	saramaCfg.Producer.Partitioner = sarama.NewHashPartitioner

	producer, err := sarama.NewSyncProducer(cfg.Brokers, saramaCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	log.WithField("brokers", cfg.Brokers).Info("Kafka producer created")

	topics := cfg.Topics
	return &Producer{producer: producer, log: log, topics: &topics}, nil
}

// Close закрывает продюсера
func (p *Producer) Close() error {
	if p == nil || p.producer == nil {
		return nil
	}
	return p.producer.Close()
}

// PublishCompanyRegistered публикует регистрацию компании
func (p *Producer) PublishCompanyRegistered(company *models.Company) error {
	return p.publishTyped(p.topics.Companies, company.ID, models.EventTypeCompanyRegistered, companyData(company))
}

// PublishCompanyModerated публикует решение модерации компании
func (p *Producer) PublishCompanyModerated(company *models.Company) error {
	return p.publishTyped(p.topics.Companies, company.ID, models.EventTypeCompanyModerated, companyData(company))
}

// PublishMandatCreated публикует создание мандата
func (p *Producer) PublishMandatCreated(m *models.Mandat) error {
	return p.publishTyped(p.topics.Mandats, m.ID, models.EventTypeMandatCreated, mandatData(m, "", nil))
}

// PublishMandatModerated публикует решение модерации мандата
func (p *Producer) PublishMandatModerated(m *models.Mandat, oldStatus models.MandatStatus) error {
	return p.publishTyped(p.topics.Mandats, m.ID, models.EventTypeMandatModerated, mandatData(m, oldStatus, m.RejectionReason))
}

// PublishMandatClaimed публикует захват мандата перевозчиком
func (p *Producer) PublishMandatClaimed(m *models.Mandat) error {
	return p.publishTyped(p.topics.Mandats, m.ID, models.EventTypeMandatClaimed, mandatData(m, models.MandatStatusApproved, nil))
}

// PublishMandatStatusChanged публикует смену статуса доставки
func (p *Producer) PublishMandatStatusChanged(m *models.Mandat, oldStatus models.MandatStatus) error {
	return p.publishTyped(p.topics.Mandats, m.ID, models.EventTypeMandatStatusChanged, mandatData(m, oldStatus, m.ProblemNote))
}

// PublishMandatCancelled публикует отмену мандата
func (p *Producer) PublishMandatCancelled(m *models.Mandat, oldStatus models.MandatStatus) error {
	return p.publishTyped(p.topics.Mandats, m.ID, models.EventTypeMandatCancelled, mandatData(m, oldStatus, nil))
}

// PublishMemberInvited публикует приглашение в компанию
func (p *Producer) PublishMemberInvited(inv *models.Invitation, companyName string) error {
	token := inv.Token
	data := models.MemberEventData{CompanyID: inv.CompanyID, CompanyName: companyName, Email: inv.Email, Token: &token}
	return p.publishTyped(p.topics.Members, inv.CompanyID, models.EventTypeMemberInvited, data)
}

// PublishMemberJoined публикует вступление пользователя в компанию
func (p *Producer) PublishMemberJoined(profile *models.Profile, companyName string) error {
	if profile.CompanyID == nil {
		return fmt.Errorf("profile %s has no company", profile.UserID)
	}
	userID := profile.UserID
	data := models.MemberEventData{CompanyID: *profile.CompanyID, CompanyName: companyName, Email: profile.Email, UserID: &userID}
	return p.publishTyped(p.topics.Members, *profile.CompanyID, models.EventTypeMemberJoined, data)
}

func (p *Producer) publishTyped(topic string, key uuid.UUID, eventType models.EventType, data interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}

	event := models.Event{
		ID:        uuid.New(),
		Type:      eventType,
		Source:    eventSource,
		Timestamp: time.Now().UTC(),
		Data:      raw,
	}
	return p.publish(topic, key.String(), event)
}

// publishEvent отправляет событие без ключа партиционирования
func (p *Producer) publishEvent(topic string, event models.Event) error {
	return p.publish(topic, "", event)
}

func (p *Producer) publish(topic, key string, event models.Event) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Value: sarama.ByteEncoder(value),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_type"), Value: []byte(event.Type)},
		},
	}
	if key != "" {
		msg.Key = sarama.StringEncoder(key)
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("failed to send event %s to %s: %w", event.Type, topic, err)
	}

	p.log.WithFields(map[string]interface{}{
		"event_id":   event.ID,
		"event_type": event.Type,
		"topic":      topic,
		"partition":  partition,
		"offset":     offset,
	}).Debug("Event published")

	return nil
}

func companyData(c *models.Company) models.CompanyEventData {
	return models.CompanyEventData{
		CompanyID:    c.ID,
		Name:         c.Name,
		Type:         c.Type,
		Status:       c.Status,
		ContactEmail: c.ContactEmail,
		Reason:       c.RejectionReason,
	}
}

func mandatData(m *models.Mandat, oldStatus models.MandatStatus, note *string) models.MandatEventData {
	return models.MandatEventData{
		MandatID:              m.ID,
		ExpediteurCompanyID:   m.ExpediteurCompanyID,
		TransporteurCompanyID: m.TransporteurCompanyID,
		OldStatus:             oldStatus,
		NewStatus:             m.Status,
		PickupAddress:         m.PickupAddress,
		DeliveryAddress:       m.DeliveryAddress,
		PrixEstimeTTC:         m.PrixEstimeTTC,
		Note:                  note,
	}
}
