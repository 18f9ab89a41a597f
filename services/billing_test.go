package services

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"growthos/models"
)

type fakePublisher struct {
	published []uint
	err       error
}

func (f *fakePublisher) Publish(inv *models.Invoice) (*PublishedInvoice, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.published = append(f.published, inv.ID)
	return &PublishedInvoice{ProviderID: "in_test", HostedURL: "https://pay.example/in_test"}, nil
}

func TestBillingCreateNumbersInvoices(t *testing.T) {
	db := newTestDB(t)
	rc := createUser(t, db, "owner@example.com")
	svc := NewBillingService(db, testLogger(), &fakePublisher{})

	first := &models.Invoice{ClientName: "Acme"}
	require.NoError(t, svc.Create(rc, first))
	assert.Equal(t, "INV-0001", first.Number)
	assert.Equal(t, models.InvoiceDraft, first.Status)
	assert.False(t, first.IssueDate.IsZero())

	second := &models.Invoice{ClientName: "Beta", Status: models.InvoicePaid}
	require.NoError(t, svc.Create(rc, second))
	assert.Equal(t, "INV-0002", second.Number)
	assert.Equal(t, models.InvoiceDraft, second.Status)

	require.NoError(t, db.Delete(second).Error)
	third := &models.Invoice{ClientName: "Gamma"}
	require.NoError(t, svc.Create(rc, third))
	assert.Equal(t, "INV-0003", third.Number, "deleted invoices keep their number")
}

func TestBillingSend(t *testing.T) {
	db := newTestDB(t)
	rc := createUser(t, db, "owner@example.com")
	publisher := &fakePublisher{}
	svc := NewBillingService(db, testLogger(), publisher)

	inv := &models.Invoice{
		ClientName:  "Acme",
		ClientEmail: "billing@acme.com",
		Items:       []models.InvoiceItem{{Description: "Retainer", Quantity: 1, UnitPrice: 250000}},
	}
	require.NoError(t, svc.Create(rc, inv))

	sent, err := svc.Send(rc, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InvoiceSent, sent.Status)
	assert.Equal(t, "in_test", sent.StripeInvoiceID)
	assert.EqualValues(t, 250000, sent.Total())
	assert.Equal(t, []uint{inv.ID}, publisher.published)

	_, err = svc.Send(rc, inv.ID)
	assert.ErrorIs(t, err, ErrInvoiceNotSendable)

	empty := &models.Invoice{ClientName: "Beta"}
	require.NoError(t, svc.Create(rc, empty))
	_, err = svc.Send(rc, empty.ID)
	assert.ErrorIs(t, err, ErrInvoiceIncomplete)

	_, err = svc.Send(rc, 9999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBillingSendPublisherFailureKeepsDraft(t *testing.T) {
	db := newTestDB(t)
	rc := createUser(t, db, "owner@example.com")
	svc := NewBillingService(db, testLogger(), &fakePublisher{err: errors.New("card declined")})
	svc.Now = fixedClock(time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC))

	inv := &models.Invoice{
		ClientName:  "Acme",
		ClientEmail: "billing@acme.com",
		Items:       []models.InvoiceItem{{Description: "Audit", Quantity: 2, UnitPrice: 1000}},
	}
	require.NoError(t, svc.Create(rc, inv))

	_, err := svc.Send(rc, inv.ID)
	require.Error(t, err)

	loaded, err := svc.Load(rc, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InvoiceDraft, loaded.Status)
	assert.Equal(t, "2024-01-10", loaded.IssueDate.Format("2006-01-02"))
}
