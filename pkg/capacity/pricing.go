package capacity

import (
	"github.com/shopspring/decimal"

	"github.com/lnvps/lnvpsd/pkg/catalog"
	"github.com/lnvps/lnvpsd/pkg/exchange"
	"github.com/lnvps/lnvpsd/pkg/lnvpserr"
)

// TaxRate maps a (user country, company country) pair to a fractional tax
// rate. Pairs absent from the table are untaxed.
type TaxRate struct {
	UserCountry    string
	CompanyCountry string
	Rate           decimal.Decimal
}

// TaxTable looks up the applicable rate for a (user, company) country pair.
type TaxTable []TaxRate

func (t TaxTable) Lookup(userCountry, companyCountry string) decimal.Decimal {
	for _, r := range t {
		if r.UserCountry == userCountry && r.CompanyCountry == companyCountry {
			return r.Rate
		}
	}
	return decimal.Zero
}

// FeeSchedule is the per-PaymentMethod fee formula: the larger of a flat
// base fee and a percentage of the priced amount.
type FeeSchedule struct {
	BaseFee exchange.Amount
	Rate    decimal.Decimal
}

// PriceRequest is everything needed to price one VM before invoicing.
type PriceRequest struct {
	Template       *catalog.VmTemplate
	CostPlan       *catalog.VmCostPlan
	CustomPricing  *catalog.VmCustomPricing
	CustomTemplate *catalog.VmCustomTemplate
	UserCountry    string
	CompanyCountry string
	PaymentMethod  catalog.PaymentMethod
	TargetCurrency exchange.Currency
}

// Quote is the fully computed invoice breakdown, all amounts already
// converted into TargetCurrency.
type Quote struct {
	Price    exchange.Amount
	Tax      exchange.Amount
	Fee      exchange.Amount
	Total    exchange.Amount
	TaxRate  decimal.Decimal
}

// Price computes a Quote via the pricing algorithm:
//  1. base price: template cost plan amount, or custom pricing's
//     cpu*cpu_price + mem_gib*mem_price + disk_gib*disk_type_multiplier*disk_price.
//  2. tax = price * tax_rate(user.country, company.country).
//  3. fee = max(base_fee_converted, fee_rate * price).
//  4. total = price + tax + fee, each leg converted into TargetCurrency via
//     the Exchange Rate Cache.
func Price(rates *exchange.Cache, taxes TaxTable, fees map[catalog.PaymentMethod]FeeSchedule, req PriceRequest) (Quote, error) {
	price, err := basePrice(req)
	if err != nil {
		return Quote{}, err
	}

	convertedPrice, err := rates.Convert(price, req.TargetCurrency)
	if err != nil {
		return Quote{}, err
	}

	taxRate := taxes.Lookup(req.UserCountry, req.CompanyCountry)
	tax := decimalAmount(convertedPrice).Mul(taxRate).Round(0)
	taxAmount := exchange.Amount{Currency: req.TargetCurrency, Value: tax.IntPart()}

	schedule, ok := fees[req.PaymentMethod]
	if !ok {
		return Quote{}, lnvpserr.Validation("no fee schedule configured for payment method %q", req.PaymentMethod)
	}
	feeAmount, err := computeFee(rates, schedule, convertedPrice, req.TargetCurrency)
	if err != nil {
		return Quote{}, err
	}

	total := convertedPrice.Value + taxAmount.Value + feeAmount.Value

	return Quote{
		Price:   convertedPrice,
		Tax:     taxAmount,
		Fee:     feeAmount,
		Total:   exchange.Amount{Currency: req.TargetCurrency, Value: total},
		TaxRate: taxRate,
	}, nil
}

func basePrice(req PriceRequest) (exchange.Amount, error) {
	if req.Template != nil {
		if req.CostPlan == nil {
			return exchange.Amount{}, lnvpserr.Fatal(nil, "template %d has no cost plan loaded", req.Template.ID)
		}
		currency, err := exchange.ParseCurrency(req.CostPlan.Currency)
		if err != nil {
			return exchange.Amount{}, lnvpserr.Fatal(err, "cost plan %d currency", req.CostPlan.ID)
		}
		return exchange.FromFloat(currency, req.CostPlan.Amount), nil
	}

	if req.CustomTemplate == nil || req.CustomPricing == nil {
		return exchange.Amount{}, lnvpserr.Validation("pricing request has neither a template nor a custom template")
	}

	currency, err := exchange.ParseCurrency(req.CustomPricing.Currency)
	if err != nil {
		return exchange.Amount{}, lnvpserr.Fatal(err, "custom pricing %d currency", req.CustomPricing.ID)
	}

	ct := req.CustomTemplate
	cp := req.CustomPricing

	cpuCost := decimal.NewFromInt(int64(ct.CPU)).Mul(decimal.NewFromFloat(cp.CPUPricePerCore))
	memGiB := decimal.NewFromInt(ct.MemoryBytes).Div(decimal.NewFromInt(1 << 30))
	memCost := memGiB.Mul(decimal.NewFromFloat(cp.MemoryPricePerGiB))
	diskGiB := decimal.NewFromInt(ct.DiskSizeBytes).Div(decimal.NewFromInt(1 << 30))
	multiplier, ok := cp.DiskTypeMultiplier[ct.DiskType]
	if !ok {
		multiplier = 1.0
	}
	diskCost := diskGiB.Mul(decimal.NewFromFloat(cp.DiskPricePerGiB)).Mul(decimal.NewFromFloat(multiplier))

	total := cpuCost.Add(memCost).Add(diskCost)
	return exchange.FromFloat(currency, total.InexactFloat64()), nil
}

func computeFee(rates *exchange.Cache, schedule FeeSchedule, price exchange.Amount, target exchange.Currency) (exchange.Amount, error) {
	convertedBase, err := rates.Convert(schedule.BaseFee, target)
	if err != nil {
		return exchange.Amount{}, err
	}

	percentage := decimalAmount(price).Mul(schedule.Rate).Round(0).IntPart()

	if percentage > convertedBase.Value {
		return exchange.Amount{Currency: target, Value: percentage}, nil
	}
	return convertedBase, nil
}

func decimalAmount(a exchange.Amount) decimal.Decimal {
	return decimal.NewFromInt(a.Value)
}
