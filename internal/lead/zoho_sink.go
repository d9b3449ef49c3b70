package lead

import (
	"context"
	stderrors "errors"
	"time"

	"churn-calc/internal/common/errors"
	"churn-calc/internal/common/logger"
	"churn-calc/internal/common/zoho"
)

const SinkZoho = "zoho"

// CRM is the part of zoho.CRMClient the sink uses.
type CRM interface {
	SearchContacts(ctx context.Context, email string) ([]zoho.Contact, error)
	CreateContact(ctx context.Context, contact *zoho.Contact) (string, error)
	UpdateContact(ctx context.Context, contactID string, contact *zoho.Contact) error
}

// ZohoSink upserts the lead as a CRM contact keyed by email. A failed
// request is retried once after RetryDelay.
type ZohoSink struct {
	crm        CRM
	leadSource string
	retryDelay time.Duration
	logger     logger.Logger
	now        func() time.Time
}

func NewZohoSink(crm CRM, leadSource string, retryDelay time.Duration, log logger.Logger) *ZohoSink {
	return &ZohoSink{
		crm:        crm,
		leadSource: leadSource,
		retryDelay: retryDelay,
		logger:     log.With(map[string]interface{}{"sink": SinkZoho}),
		now:        time.Now,
	}
}

func (z *ZohoSink) Name() string {
	return SinkZoho
}

func (z *ZohoSink) Submit(ctx context.Context, l *Lead) (*Receipt, error) {
	receipt, err := z.upsert(ctx, l)
	if err != nil && retryable(err) {
		z.logger.Warn("CRM sync failed, retrying once", map[string]interface{}{
			"leadId": l.ID,
			"error":  err.Error(),
		})
		select {
		case <-time.After(z.retryDelay):
		case <-ctx.Done():
			return nil, errors.NewCRMRequestFailedError("sync_contact", ctx.Err())
		}
		receipt, err = z.upsert(ctx, l)
	}
	if err != nil {
		return nil, mapCRMError(err)
	}
	return receipt, nil
}

func (z *ZohoSink) upsert(ctx context.Context, l *Lead) (*Receipt, error) {
	contact := &zoho.Contact{
		Email:      l.Contact.Email,
		FirstName:  l.Contact.FirstName,
		LastName:   l.Contact.LastName,
		Phone:      l.Contact.Phone,
		Source:     z.leadSource,
		Properties: l.Properties(),
	}

	existing, err := z.crm.SearchContacts(ctx, l.Contact.Email)
	if err != nil {
		return nil, err
	}

	receipt := &Receipt{Sink: SinkZoho, At: z.now().UTC()}
	if len(existing) > 0 && existing[0].ID != "" {
		if err := z.crm.UpdateContact(ctx, existing[0].ID, contact); err != nil {
			return nil, err
		}
		receipt.ExternalID = existing[0].ID
		return receipt, nil
	}

	id, err := z.crm.CreateContact(ctx, contact)
	if err != nil {
		return nil, err
	}
	receipt.ExternalID = id
	receipt.Created = true
	return receipt, nil
}

func retryable(err error) bool {
	var apiErr *zoho.APIError
	if stderrors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	return !stderrors.Is(err, context.Canceled)
}

func mapCRMError(err error) error {
	var apiErr *zoho.APIError
	if stderrors.As(err, &apiErr) && apiErr.Unauthorized() {
		return errors.NewCRMAuthFailedError(apiErr.Error())
	}
	return errors.NewCRMRequestFailedError("sync_contact", err)
}
