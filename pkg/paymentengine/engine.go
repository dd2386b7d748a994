// Package paymentengine implements the Payment State Machine: invoice
// lifecycle (Unpaid -> Paid/Expired/Cancelled), the active-invoice rule,
// and re-entry into the Work Dispatcher on settlement. Uses a Redis
// pub/sub broadcast shape alongside dispatcher.FeedbackBus's per-topic
// channel pattern.
package paymentengine

import (
	"context"
	"log/slog"
	"time"

	"github.com/lnvps/lnvpsd/pkg/capacity"
	"github.com/lnvps/lnvpsd/pkg/catalog"
	"github.com/lnvps/lnvpsd/pkg/dispatcher"
	"github.com/lnvps/lnvpsd/pkg/exchange"
	"github.com/lnvps/lnvpsd/pkg/lnvpserr"
	"github.com/lnvps/lnvpsd/pkg/paymentrail"
)

// DefaultInvoiceTTL is the invoice lifetime when a rail doesn't override it.
const DefaultInvoiceTTL = time.Hour

// Engine is the Payment State Machine: invoice creation, pricing, and
// settlement application.
type Engine struct {
	Store  *catalog.Store
	Rails  *paymentrail.Registry
	Rates  *exchange.Cache
	Taxes  capacity.TaxTable
	Fees   map[catalog.PaymentMethod]capacity.FeeSchedule
	Queue  dispatcher.Queue
	Logger *slog.Logger

	// CompanyCountry is the operator's tax jurisdiction, looked up against
	// TaxTable alongside the purchasing user's country.
	CompanyCountry string

	// InvoiceTTL overrides DefaultInvoiceTTL per rail; zero-value entries
	// fall back to the default.
	InvoiceTTL map[catalog.PaymentMethod]time.Duration
}

func (e *Engine) logger() *slog.Logger {
	if e.Logger == nil {
		return slog.Default()
	}
	return e.Logger
}

func (e *Engine) ttl(method catalog.PaymentMethod) time.Duration {
	if d, ok := e.InvoiceTTL[method]; ok && d > 0 {
		return d
	}
	return DefaultInvoiceTTL
}

func (e *Engine) resolveRail(method catalog.PaymentMethod) (paymentrail.Driver, error) {
	drv, ok := e.Rails.Resolve(string(method))
	if !ok {
		return nil, lnvpserr.Fatal(nil, "no payment rail driver registered for method %q", method)
	}
	return drv, nil
}

// CreateInitialInvoice satisfies provisioner.PaymentInitiator: it issues
// (or reuses) the purchase invoice for a freshly created VM. It is a thin
// wrapper over ActiveInvoice so CreateVm and renewal share one code path.
func (e *Engine) CreateInitialInvoice(ctx context.Context, vm catalog.Vm, method catalog.PaymentMethod) (catalog.VmPayment, error) {
	return e.ActiveInvoice(ctx, vm, method)
}

// ActiveInvoice implements the active-invoice rule: it
// returns the existing unexpired, unpaid payment for vm/method if one
// exists, otherwise creates and prices a new one. Concurrent callers
// racing to create two at once is the bug this rule exists to prevent; a
// partial unique index on (vm_id, method) WHERE NOT is_paid in the
// migrations makes a double-create fail at the database rather than
// silently succeed twice. Since the index can't key on a moving expiry
// threshold, CreateVmPaymentByID clears any stale expired-unpaid row for
// the same (vm_id, method) inside the same transaction before inserting.
func (e *Engine) ActiveInvoice(ctx context.Context, vm catalog.Vm, method catalog.PaymentMethod) (catalog.VmPayment, error) {
	existing, err := e.Store.AdminListVmPayments(ctx, vm.ID, catalog.PageParams{Limit: 100})
	if err != nil {
		return catalog.VmPayment{}, err
	}
	now := time.Now()
	for _, p := range existing {
		if p.Method == method && !p.IsPaid && p.Expires.After(now) {
			return p, nil
		}
	}
	return e.createInvoice(ctx, vm, method)
}

func (e *Engine) createInvoice(ctx context.Context, vm catalog.Vm, method catalog.PaymentMethod) (catalog.VmPayment, error) {
	quote, currency, costPlan, err := e.price(ctx, vm, method)
	if err != nil {
		return catalog.VmPayment{}, err
	}

	drv, err := e.resolveRail(method)
	if err != nil {
		return catalog.VmPayment{}, err
	}

	inv, err := drv.CreateInvoice(ctx, quote.Total.Value, string(currency), "lnvps vm renewal", e.ttl(method))
	if err != nil {
		return catalog.VmPayment{}, err
	}

	timeValue := creditedSeconds(costPlan)

	rate := 0.0
	if btc, convErr := e.Rates.Convert(exchange.Amount{Currency: exchange.BTC, Value: 100_000_000}, quote.Total.Currency); convErr == nil && btc.Value != 0 {
		rate = float64(btc.Value)
	}

	payment := catalog.VmPayment{
		VmID:       vm.ID,
		Created:    time.Now(),
		Expires:    time.Now().Add(e.ttl(method)),
		Amount:     quote.Total.Value,
		Currency:   string(quote.Total.Currency),
		Rate:       rate,
		Method:     method,
		ExternalID: inv.ExternalID,
		ExternalData: inv.PaymentData,
		IsPaid:     false,
		TimeValue:  timeValue,
		Tax:        quote.Tax.Value,
	}
	return e.Store.CreateVmPaymentByID(ctx, payment)
}

// Seconds-per-unit for the IntervalType values a VmCostPlan can carry.
const (
	secondsPerDay   = int64(24 * time.Hour / time.Second)
	secondsPerMonth = 30 * secondsPerDay
	secondsPerYear  = 365 * secondsPerDay
)

// creditedSeconds is the time value a renewal invoice credits. A VM bought
// against a cost plan credits plan.IntervalAmount units of plan.IntervalType;
// a VM bought against a custom template has no cost plan at all (see
// DESIGN.md) and always credits a flat 30-day term.
func creditedSeconds(plan *catalog.VmCostPlan) int64 {
	if plan == nil {
		return 30 * secondsPerDay
	}

	var unit int64
	switch plan.IntervalType {
	case catalog.IntervalDay:
		unit = secondsPerDay
	case catalog.IntervalYear:
		unit = secondsPerYear
	default:
		unit = secondsPerMonth
	}
	return int64(plan.IntervalAmount) * unit
}

func (e *Engine) price(ctx context.Context, vm catalog.Vm, method catalog.PaymentMethod) (capacity.Quote, exchange.Currency, *catalog.VmCostPlan, error) {
	user, err := e.Store.GetUser(ctx, vm.UserID)
	if err != nil {
		return capacity.Quote{}, "", nil, err
	}

	req := capacity.PriceRequest{
		PaymentMethod:  method,
		TargetCurrency: exchange.BTC,
		UserCountry:    user.CountryCode,
		CompanyCountry: e.CompanyCountry,
	}
	if vm.TemplateID != nil {
		t, err := e.Store.GetVmTemplate(ctx, *vm.TemplateID)
		if err != nil {
			return capacity.Quote{}, "", nil, err
		}
		req.Template = &t
		plan, err := e.Store.GetCostPlan(ctx, t.CostPlanID)
		if err != nil {
			return capacity.Quote{}, "", nil, err
		}
		req.CostPlan = &plan
	} else if vm.CustomTemplateID != nil {
		ct, err := e.Store.GetCustomTemplate(ctx, *vm.CustomTemplateID)
		if err != nil {
			return capacity.Quote{}, "", nil, err
		}
		req.CustomTemplate = &ct
		pricing, err := e.Store.GetCustomPricing(ctx, ct.PricingID)
		if err != nil {
			return capacity.Quote{}, "", nil, err
		}
		req.CustomPricing = &pricing
	}

	quote, err := capacity.Price(e.Rates, e.Taxes, e.Fees, req)
	if err != nil {
		return capacity.Quote{}, "", nil, err
	}
	return quote, req.TargetCurrency, req.CostPlan, nil
}

// ApplySettlement idempotently applies the Paid transition for the payment
// identified by (method, externalID): marks it paid, extends the VM's
// expiry (in the same transaction, via Store.MarkVmPaymentPaidByID), and
// enqueues ConfigureVm if the VM isn't already configured.
func (e *Engine) ApplySettlement(ctx context.Context, method catalog.PaymentMethod, externalID string) error {
	existing, err := e.Store.GetVmPaymentByExternalID(ctx, method, externalID)
	if err != nil {
		return err
	}
	if existing.IsPaid {
		return nil // already applied; webhooks and polls both race here
	}

	paid, err := e.Store.MarkVmPaymentPaidByID(ctx, existing.ID)
	if err != nil {
		return err
	}

	if e.Queue == nil {
		return nil
	}
	_, err = e.Queue.Send(ctx, dispatcher.Job{Type: dispatcher.JobConfigureVm, VmID: paid.VmID})
	return err
}
