package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"sync"
	"time"

	"storefront-api/internal/models"
	"storefront-api/internal/util"

	"github.com/leekchan/accounting"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	// ErrQueueFull is returned when the dispatcher cannot take another event.
	ErrQueueFull = errors.New("notify: queue full")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("notify: dispatcher closed")
)

const (
	recipientCustomer = "customer"
	recipientAdmin    = "admin"
)

var orderTemplate = template.Must(template.New("order").Parse(
	`{{if .From}}<p>From: {{.From}}</p>{{end}}` +
		`<p>Thanks for your order. Order #{{.OrderID}}</p>` +
		`<ul>{{range .Lines}}<li>{{.Name}} x {{.Quantity}} - {{.Price}}</li>{{end}}</ul>` +
		`<p>Total: {{.Total}}</p>` +
		`{{if .ShippingAddress}}<p>Ship to: {{.ShippingAddress}}</p>{{end}}`))

type templateLine struct {
	Name     string
	Quantity int
	Price    string
}

type templateData struct {
	From            string
	OrderID         int64
	Lines           []templateLine
	Total           string
	ShippingAddress string
}

// DispatcherConfig configures a Dispatcher.
type DispatcherConfig struct {
	AdminEmail string
	Currency   string
	Workers    int
	QueueSize  int
}

// Dispatcher sends order emails from a fixed pool of workers. Start it before
// publishing and Close it on shutdown to drain the queue.
type Dispatcher struct {
	mailer     Mailer
	adminEmail string
	money      accounting.Accounting
	workers    int
	logger     *zap.Logger

	queue   chan *models.OrderPlacedEvent
	mu      sync.RWMutex
	started bool
	closed  bool
	wg      sync.WaitGroup
}

func NewDispatcher(mailer Mailer, cfg DispatcherConfig) *Dispatcher {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 64
	}
	return &Dispatcher{
		mailer:     mailer,
		adminEmail: cfg.AdminEmail,
		money:      accounting.Accounting{Symbol: cfg.Currency, Precision: 2, Thousand: ",", Decimal: "."},
		workers:    cfg.Workers,
		logger:     util.GetLogger(),
		queue:      make(chan *models.OrderPlacedEvent, cfg.QueueSize),
	}
}

// Start launches the workers. Calling it twice has no effect.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.closed {
		return
	}
	d.started = true

	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.run()
	}
	d.logger.Info("Notification dispatcher started", zap.Int("workers", d.workers))
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for event := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := d.Deliver(ctx, event); err != nil {
			d.logger.Warn("Order notification incomplete",
				zap.Int64("order_id", event.OrderID), zap.Error(err))
		}
		cancel()
	}
}

// PublishOrderPlaced queues the event without blocking.
func (d *Dispatcher) PublishOrderPlaced(ctx context.Context, event *models.OrderPlacedEvent) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrClosed
	}

	select {
	case d.queue <- event:
		return nil
	default:
		util.NotificationsDroppedTotal.Inc()
		return ErrQueueFull
	}
}

// Deliver sends the purchaser and admin emails for event. Both are attempted; the
// returned error joins whichever failed.
func (d *Dispatcher) Deliver(ctx context.Context, event *models.OrderPlacedEvent) error {
	var errs []error

	if event.Customer.Email != "" {
		body, err := d.render(event, "")
		if err != nil {
			return err
		}
		errs = append(errs, d.send(ctx, recipientCustomer, Message{
			To:      event.Customer.Email,
			Subject: fmt.Sprintf("Order #%d confirmation", event.OrderID),
			HTML:    body,
		}))
	}

	if d.adminEmail != "" {
		body, err := d.render(event, event.Customer.Email)
		if err != nil {
			return err
		}
		errs = append(errs, d.send(ctx, recipientAdmin, Message{
			To:      d.adminEmail,
			Subject: fmt.Sprintf("New Order #%d", event.OrderID),
			HTML:    body,
		}))
	}

	return errors.Join(errs...)
}

func (d *Dispatcher) send(ctx context.Context, recipient string, msg Message) error {
	if err := d.mailer.Send(ctx, msg); err != nil {
		util.NotificationsFailedTotal.WithLabelValues(recipient).Inc()
		return fmt.Errorf("%s mail: %w", recipient, err)
	}
	util.NotificationsSentTotal.WithLabelValues(recipient).Inc()
	return nil
}

func (d *Dispatcher) render(event *models.OrderPlacedEvent, from string) (string, error) {
	data := templateData{
		From:            from,
		OrderID:         event.OrderID,
		Total:           d.format(event.Total),
		ShippingAddress: event.ShippingAddress,
	}
	for _, l := range event.Lines {
		data.Lines = append(data.Lines, templateLine{Name: l.ProductName, Quantity: l.Quantity, Price: d.format(l.Price)})
	}

	var buf bytes.Buffer
	if err := orderTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render order email: %w", err)
	}
	return buf.String(), nil
}

func (d *Dispatcher) format(amount decimal.Decimal) string {
	return d.money.FormatMoneyDecimal(amount.Round(2))
}

// Close stops accepting events and waits for queued ones to be delivered or for ctx to
// expire.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	started := d.started
	d.mu.Unlock()

	if !started {
		return nil
	}

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.logger.Info("Notification dispatcher drained")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
