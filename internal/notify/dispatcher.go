// internal/notify/dispatcher.go
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	apperrors "placement-broker/internal/common/errors"
	"placement-broker/internal/common/logger"
	"placement-broker/internal/common/metrics"
	"placement-broker/internal/models"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"
)

const (
	ChannelEmail = "email"
	ChannelSMS   = "sms"
	ChannelTopic = "topic"

	resultSent      = "sent"
	resultFailed    = "failed"
	resultNoContact = "no_contact"
)

// SESService is the part of the SES client the dispatcher uses.
type SESService interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SNSService is the part of the SNS client the dispatcher uses.
type SNSService interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// ContactDirectory resolves where an agency receives notifications.
type ContactDirectory interface {
	GetAgencyContact(ctx context.Context, agencyID string) (*models.AgencyContact, error)
}

type Options struct {
	Contacts  ContactDirectory
	SES       SESService // nil disables email
	SNS       SNSService // nil disables SMS and topic fan-out
	FromEmail string
	TopicARN  string
	Timeout   time.Duration
	Logger    logger.Logger
}

// Dispatcher delivers agency notifications in the background. Notify never
// blocks the caller and never reports delivery failures back to it.
type Dispatcher struct {
	contacts  ContactDirectory
	ses       SESService
	sns       SNSService
	fromEmail string
	topicARN  string
	timeout   time.Duration
	logger    logger.Logger

	wg sync.WaitGroup
}

func NewDispatcher(opts Options) *Dispatcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNoOpLogger()
	}
	return &Dispatcher{
		contacts:  opts.Contacts,
		ses:       opts.SES,
		sns:       opts.SNS,
		fromEmail: opts.FromEmail,
		topicARN:  opts.TopicARN,
		timeout:   opts.Timeout,
		logger:    opts.Logger.WithFields(map[string]interface{}{"component": "notify"}),
	}
}

// Notify queues msg for delivery and returns immediately. The caller's
// context only contributes its values; delivery outlives the request.
func (d *Dispatcher) Notify(ctx context.Context, msg models.Notification) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		deliverCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
		defer cancel()
		d.deliver(deliverCtx, msg)
	}()
}

// Wait blocks until every queued notification has been attempted.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) deliver(ctx context.Context, msg models.Notification) {
	fields := map[string]interface{}{
		"type":     msg.Type,
		"agencyId": msg.AgencyID,
	}

	if d.sns != nil && d.topicARN != "" {
		d.record(msg, ChannelTopic, d.publishTopic(ctx, msg), fields)
	}

	if d.contacts == nil {
		return
	}
	contact, err := d.contacts.GetAgencyContact(ctx, msg.AgencyID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			metrics.NotificationsSent.WithLabelValues(string(msg.Type), ChannelEmail, resultNoContact).Inc()
			d.logger.Warn("agency has no notification contact", fields)
			return
		}
		d.logger.WithError(err).Error("contact lookup failed", fields)
		metrics.NotificationsSent.WithLabelValues(string(msg.Type), ChannelEmail, resultFailed).Inc()
		return
	}

	if d.ses != nil && contact.Email != "" {
		d.record(msg, ChannelEmail, d.sendEmail(ctx, contact, msg), fields)
	}
	if d.sns != nil && contact.Phone != "" && urgent(msg.Type) {
		d.record(msg, ChannelSMS, d.sendSMS(ctx, contact.Phone, msg), fields)
	}
}

func (d *Dispatcher) record(msg models.Notification, channel string, err error, fields map[string]interface{}) {
	if err != nil {
		metrics.NotificationsSent.WithLabelValues(string(msg.Type), channel, resultFailed).Inc()
		d.logger.WithError(err).Error("notification delivery failed", withChannel(fields, channel))
		return
	}
	metrics.NotificationsSent.WithLabelValues(string(msg.Type), channel, resultSent).Inc()
	d.logger.Debug("notification delivered", withChannel(fields, channel))
}

func (d *Dispatcher) sendEmail(ctx context.Context, contact *models.AgencyContact, msg models.Notification) error {
	body := renderBody(contact, msg)
	_, err := d.ses.SendEmail(ctx, &ses.SendEmailInput{
		Destination: &types.Destination{
			ToAddresses: []string{contact.Email},
		},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(subject(msg.Type))},
			Body: &types.Body{
				Text: &types.Content{Data: aws.String(body)},
			},
		},
		Source: aws.String(d.fromEmail),
	})
	return err
}

func (d *Dispatcher) sendSMS(ctx context.Context, phone string, msg models.Notification) error {
	_, err := d.sns.Publish(ctx, &sns.PublishInput{
		PhoneNumber: aws.String(phone),
		Message:     aws.String(msg.Message),
	})
	return err
}

func (d *Dispatcher) publishTopic(ctx context.Context, msg models.Notification) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	_, err = d.sns.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(d.topicARN),
		Subject:  aws.String(subject(msg.Type)),
		Message:  aws.String(string(payload)),
	})
	return err
}

func withChannel(fields map[string]interface{}, channel string) map[string]interface{} {
	out := make(map[string]interface{}, len(fields)+1)
	for k, v := range fields {
		out[k] = v
	}
	out["channel"] = channel
	return out
}
