package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/mariomelembe98/necrologia-tempo/internal/db"
	"github.com/mariomelembe98/necrologia-tempo/internal/mpesa"
)

// CheckoutResult is returned for every completed gateway exchange,
// successful or not.
type CheckoutResult struct {
	Success       bool             `json:"success"`
	Message       string           `json:"message"`
	TransactionID string           `json:"transaction_id,omitempty"`
	Announcement  *db.Announcement `json:"announcement,omitempty"`
}

const maxPhoneLen = 30

// lockSlack extends the checkout lock past the gateway timeout.
const lockSlack = 30 * time.Second

// Checkout charges phone for the announcement's plan. A successful
// initiation is recorded as paid and publishes the announcement; a failure
// marks the payment failed. Gateway failures are results, not errors.
func (m *Manager) Checkout(ctx context.Context, slugRef, phone string) (*CheckoutResult, error) {
	ctx, span := m.tracer.Start(ctx, "lifecycle.Checkout")
	defer span.End()

	phone = strings.TrimSpace(phone)
	if err := validatePhone(phone); err != nil {
		return nil, err
	}

	a, err := m.GetBySlug(ctx, slugRef)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int64("announcement.id", a.ID))
	if a.PaymentStatus == db.PaymentPaid {
		return nil, ErrAlreadyPaid
	}

	unlock, err := m.lockCheckout(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	defer unlock(context.WithoutCancel(ctx))

	if a, err = m.reloadUnpaid(ctx, a.ID); err != nil {
		return nil, err
	}

	res := m.initiate(ctx, a, phone)

	updated, err := m.RecordPaymentResult(ctx, a.ID, PaymentOutcome{
		Success:   res.Success,
		Reference: res.TransactionID,
		Message:   res.Message,
	})
	if err != nil {
		return nil, fmt.Errorf("record payment: %w", err)
	}

	return &CheckoutResult{
		Success:       res.Success,
		Message:       res.Message,
		TransactionID: res.TransactionID,
		Announcement:  updated,
	}, nil
}

// RequestPayment is the staff-initiated charge. It needs a plan with a
// price. A successful initiation is stored as method and reference only;
// the payment stays pending until confirmed.
func (m *Manager) RequestPayment(ctx context.Context, id int64, phone string) (*CheckoutResult, error) {
	ctx, span := m.tracer.Start(ctx, "lifecycle.RequestPayment")
	defer span.End()
	span.SetAttributes(attribute.Int64("announcement.id", id))

	phone = strings.TrimSpace(phone)
	if err := validatePhone(phone); err != nil {
		return nil, err
	}

	a, err := m.store.GetAnnouncement(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load announcement: %w", err)
	}
	if a.Plan == nil || a.Plan.Price <= 0 {
		return nil, invalid("plan", "este anúncio não tem um plano com valor definido")
	}
	if a.PaymentStatus == db.PaymentPaid {
		return nil, ErrAlreadyPaid
	}

	unlock, err := m.lockCheckout(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	defer unlock(context.WithoutCancel(ctx))

	if a, err = m.reloadUnpaid(ctx, a.ID); err != nil {
		return nil, err
	}

	res := m.initiate(ctx, a, phone)
	if !res.Success {
		return &CheckoutResult{Success: false, Message: res.Message, Announcement: a}, nil
	}

	txID := strings.TrimSpace(res.TransactionID)
	_, updated, err := m.mutate(ctx, id, func(a *db.Announcement, _ time.Time) (db.Lifecycle, error) {
		next := a.Lifecycle
		if a.PaymentStatus == db.PaymentPaid {
			return next, ErrAlreadyPaid
		}
		method := db.PaymentMethodMpesa
		next.PaymentMethod = &method
		next.PaymentStatus = db.PaymentPending
		if txID != "" {
			next.PaymentReference = &txID
		}
		return next, nil
	})
	if err != nil {
		return nil, err
	}

	m.logger.Info("payment requested",
		zap.Int64("announcement_id", id),
		zap.String("transaction_id", txID),
	)
	return &CheckoutResult{
		Success:       true,
		Message:       res.Message,
		TransactionID: txID,
		Announcement:  updated,
	}, nil
}

// reloadUnpaid re-reads the announcement under the checkout lock. A
// checkout that finished while this one waited for the lock has already
// charged the customer.
func (m *Manager) reloadUnpaid(ctx context.Context, id int64) (*db.Announcement, error) {
	a, err := m.store.GetAnnouncement(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load announcement: %w", err)
	}
	if a.PaymentStatus == db.PaymentPaid {
		return nil, ErrAlreadyPaid
	}
	return a, nil
}

func (m *Manager) initiate(ctx context.Context, a *db.Announcement, phone string) mpesa.Result {
	if m.gateway == nil {
		return mpesa.Result{Message: mpesa.MsgNotConfigured}
	}
	var amount int64
	if a.Plan != nil {
		amount = a.Plan.Price
	}
	return m.gateway.InitiatePayment(ctx, mpesa.PaymentRequest{
		AnnouncementID: a.ID,
		Slug:           a.Slug,
		Amount:         amount,
	}, phone)
}

// lockCheckout keeps one initiation in flight per announcement. Without a
// locker, or when redis is unavailable, it degrades to no locking and the
// conditional update still prevents double bookkeeping.
func (m *Manager) lockCheckout(ctx context.Context, id int64) (func(context.Context), error) {
	noop := func(context.Context) {}
	if m.locker == nil {
		return noop, nil
	}

	ttl := lockSlack
	if m.gateway != nil {
		ttl += m.gateway.Timeout()
	}

	unlock, ok, err := m.locker.TryLock(ctx, fmt.Sprintf("checkout:%d", id), ttl)
	if err != nil {
		m.logger.Warn("checkout lock unavailable, continuing without it",
			zap.Error(err),
			zap.Int64("announcement_id", id),
		)
		return noop, nil
	}
	if !ok {
		return nil, ErrCheckoutInProgress
	}
	return unlock, nil
}

func validatePhone(phone string) error {
	if phone == "" {
		return invalid("phone", "é obrigatório")
	}
	if len(phone) > maxPhoneLen {
		return invalid("phone", fmt.Sprintf("excede o tamanho máximo de %d", maxPhoneLen))
	}
	return nil
}
