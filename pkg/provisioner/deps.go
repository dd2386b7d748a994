package provisioner

import (
	"context"
	"log/slog"

	"github.com/lnvps/lnvpsd/pkg/capacity"
	"github.com/lnvps/lnvpsd/pkg/catalog"
	"github.com/lnvps/lnvpsd/pkg/dispatcher"
	"github.com/lnvps/lnvpsd/pkg/dnsdriver"
	"github.com/lnvps/lnvpsd/pkg/exchange"
	"github.com/lnvps/lnvpsd/pkg/hostdriver"
	"github.com/lnvps/lnvpsd/pkg/paymentrail"
	"github.com/lnvps/lnvpsd/pkg/routerdriver"
)

// PaymentInitiator is the narrow slice of the Payment State Machine the
// Provisioner needs: issuing the first invoice for a freshly created VM.
// Kept as an interface here (rather than importing pkg/paymentengine)
// since the payment engine itself depends on the dispatcher to enqueue
// ConfigureVm on settlement — this interface is what breaks that
// potential import cycle.
type PaymentInitiator interface {
	CreateInitialInvoice(ctx context.Context, vm catalog.Vm, method catalog.PaymentMethod) (catalog.VmPayment, error)
}

// Deps wires every component the Provisioner composes.
type Deps struct {
	Store    *catalog.Store
	Hosts    *hostdriver.Registry
	Routers  *routerdriver.Registry
	DNS      dnsdriver.Driver
	Rails    *paymentrail.Registry
	Rates    *exchange.Cache
	Taxes    capacity.TaxTable
	Fees     map[catalog.PaymentMethod]capacity.FeeSchedule
	Payments PaymentInitiator
	Queue    dispatcher.Queue
	Logger   *slog.Logger
}

// enqueue submits job to the dispatcher queue, used by pipelines that
// themselves fan work back out (e.g. CheckVms enqueuing one CheckVm per
// active VM).
func (d *Deps) enqueue(ctx context.Context, job dispatcher.Job) (dispatcher.Envelope, error) {
	return d.Queue.Send(ctx, job)
}

func (d *Deps) logger() *slog.Logger {
	if d.Logger == nil {
		return slog.Default()
	}
	return d.Logger
}

func (d *Deps) usage() storeUsage { return storeUsage{store: d.Store} }

func (d *Deps) resolveHost(kind catalog.HostKind) (hostdriver.Driver, error) {
	drv, ok := d.Hosts.Resolve(string(kind))
	if !ok {
		return nil, missingDriver("host", string(kind))
	}
	return drv, nil
}

func (d *Deps) resolveRouter(kind catalog.RouterKind) (routerdriver.Driver, error) {
	drv, ok := d.Routers.Resolve(string(kind))
	if !ok {
		return nil, missingDriver("router", string(kind))
	}
	return drv, nil
}

func (d *Deps) resolveRail(method catalog.PaymentMethod) (paymentrail.Driver, error) {
	drv, ok := d.Rails.Resolve(string(method))
	if !ok {
		return nil, missingDriver("payment rail", string(method))
	}
	return drv, nil
}
