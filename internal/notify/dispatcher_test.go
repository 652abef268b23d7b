package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"storefront-api/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMailer struct {
	mu     sync.Mutex
	sent   []Message
	failTo string
	block  chan struct{}
}

func (f *fakeMailer) Send(ctx context.Context, msg Message) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if msg.To == f.failTo {
		return errors.New("550 mailbox unavailable")
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeMailer) messages() []Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Message(nil), f.sent...)
}

func sampleEvent() *models.OrderPlacedEvent {
	return &models.OrderPlacedEvent{
		OrderID:         17,
		Total:           decimal.RequireFromString("1249.5"),
		ShippingAddress: "4 <Lotus> Road",
		Customer:        models.PublicUser{ID: 3, Email: "buyer@example.com"},
		Lines: []models.OrderLineData{
			{ProductID: 1, ProductName: "Serum", Quantity: 2, Price: decimal.RequireFromString("624.75")},
		},
	}
}

func TestDeliverSendsCustomerAndAdminMail(t *testing.T) {
	mailer := &fakeMailer{}
	d := NewDispatcher(mailer, DispatcherConfig{AdminEmail: "admin@local", Currency: "₹"})

	require.NoError(t, d.Deliver(context.Background(), sampleEvent()))

	sent := mailer.messages()
	require.Len(t, sent, 2)

	assert.Equal(t, "buyer@example.com", sent[0].To)
	assert.Equal(t, "Order #17 confirmation", sent[0].Subject)
	assert.Contains(t, sent[0].HTML, "Serum x 2 - ₹624.75")
	assert.Contains(t, sent[0].HTML, "Total: ₹1,249.50")
	assert.Contains(t, sent[0].HTML, "4 &lt;Lotus&gt; Road")
	assert.NotContains(t, sent[0].HTML, "From:")

	assert.Equal(t, "admin@local", sent[1].To)
	assert.Equal(t, "New Order #17", sent[1].Subject)
	assert.Contains(t, sent[1].HTML, "From: buyer@example.com")
}

func TestDeliverFormatsLargeTotalsExactly(t *testing.T) {
	mailer := &fakeMailer{}
	d := NewDispatcher(mailer, DispatcherConfig{AdminEmail: "admin@local", Currency: "₹"})

	event := sampleEvent()
	event.Total = decimal.RequireFromString("90071992547409.93")
	event.Lines[0].Price = decimal.RequireFromString("0.105")

	require.NoError(t, d.Deliver(context.Background(), event))

	sent := mailer.messages()
	require.Len(t, sent, 2)
	assert.Contains(t, sent[0].HTML, "Total: ₹90,071,992,547,409.93")
	assert.Contains(t, sent[0].HTML, "Serum x 2 - ₹0.11")
}

func TestDeliverAttemptsAdminMailWhenCustomerMailFails(t *testing.T) {
	mailer := &fakeMailer{failTo: "buyer@example.com"}
	d := NewDispatcher(mailer, DispatcherConfig{AdminEmail: "admin@local", Currency: "$"})

	err := d.Deliver(context.Background(), sampleEvent())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "customer mail")

	sent := mailer.messages()
	require.Len(t, sent, 1)
	assert.Equal(t, "admin@local", sent[0].To)
}

func TestDispatcherDrainsQueueOnClose(t *testing.T) {
	mailer := &fakeMailer{}
	d := NewDispatcher(mailer, DispatcherConfig{AdminEmail: "admin@local", Workers: 2, QueueSize: 8})
	d.Start()

	for i := 0; i < 3; i++ {
		require.NoError(t, d.PublishOrderPlaced(context.Background(), sampleEvent()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, d.Close(ctx))

	assert.Len(t, mailer.messages(), 6)
	assert.ErrorIs(t, d.PublishOrderPlaced(context.Background(), sampleEvent()), ErrClosed)
	assert.NoError(t, d.Close(ctx))
}

func TestDispatcherRejectsWhenQueueFull(t *testing.T) {
	mailer := &fakeMailer{block: make(chan struct{})}
	d := NewDispatcher(mailer, DispatcherConfig{QueueSize: 1})

	require.NoError(t, d.PublishOrderPlaced(context.Background(), sampleEvent()))
	assert.ErrorIs(t, d.PublishOrderPlaced(context.Background(), sampleEvent()), ErrQueueFull)

	close(mailer.block)
	require.NoError(t, d.Close(context.Background()))
}

func TestBuildMIME(t *testing.T) {
	raw := string(buildMIME("shop@example.com", Message{To: "a@example.com", Subject: "Order #1", HTML: "<p>hi</p>"}))

	assert.Contains(t, raw, "From: shop@example.com\r\n")
	assert.Contains(t, raw, "To: a@example.com\r\n")
	assert.Contains(t, raw, "Content-Type: text/html")
	assert.Contains(t, raw, "\r\n\r\n<p>hi</p>")
}
