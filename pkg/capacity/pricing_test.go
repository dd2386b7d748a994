package capacity

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/lnvps/lnvpsd/pkg/catalog"
	"github.com/lnvps/lnvpsd/pkg/exchange"
)

func testFees() map[catalog.PaymentMethod]FeeSchedule {
	return map[catalog.PaymentMethod]FeeSchedule{
		catalog.PaymentMethodLightning: {BaseFee: exchange.FromFloat(exchange.EUR, 0), Rate: decimal.NewFromFloat(0.01)},
		catalog.PaymentMethodRevolut:   {BaseFee: exchange.FromFloat(exchange.EUR, 0.30), Rate: decimal.NewFromFloat(0.015)},
	}
}

func TestPriceFromTemplateCostPlan(t *testing.T) {
	rates := exchange.NewCache(nil)

	req := PriceRequest{
		Template:       &catalog.VmTemplate{ID: 1, CostPlanID: 1},
		CostPlan:       &catalog.VmCostPlan{ID: 1, Amount: 10, Currency: "EUR"},
		UserCountry:    "US",
		CompanyCountry: "US",
		PaymentMethod:  catalog.PaymentMethodLightning,
		TargetCurrency: exchange.EUR,
	}

	q, err := Price(rates, nil, testFees(), req)
	require.NoError(t, err)
	require.Equal(t, int64(1000), q.Price.Value) // 10.00 EUR in cents
	require.Equal(t, int64(0), q.Tax.Value)       // no tax row for US/US
	require.Equal(t, int64(10), q.Fee.Value)      // 1% of 1000
	require.Equal(t, int64(1010), q.Total.Value)
}

func TestPriceAppliesTaxTable(t *testing.T) {
	rates := exchange.NewCache(nil)
	taxes := TaxTable{{UserCountry: "DE", CompanyCountry: "DE", Rate: decimal.NewFromFloat(0.19)}}

	req := PriceRequest{
		Template:       &catalog.VmTemplate{ID: 1},
		CostPlan:       &catalog.VmCostPlan{Amount: 100, Currency: "EUR"},
		UserCountry:    "DE",
		CompanyCountry: "DE",
		PaymentMethod:  catalog.PaymentMethodLightning,
		TargetCurrency: exchange.EUR,
	}

	q, err := Price(rates, taxes, testFees(), req)
	require.NoError(t, err)
	require.Equal(t, int64(10000), q.Price.Value)
	require.Equal(t, int64(1900), q.Tax.Value)
}

func TestPriceFeeUsesBaseWhenPercentageSmaller(t *testing.T) {
	rates := exchange.NewCache(nil)

	req := PriceRequest{
		Template:       &catalog.VmTemplate{ID: 1},
		CostPlan:       &catalog.VmCostPlan{Amount: 1, Currency: "EUR"}, // tiny price
		UserCountry:    "US",
		CompanyCountry: "US",
		PaymentMethod:  catalog.PaymentMethodRevolut,
		TargetCurrency: exchange.EUR,
	}

	q, err := Price(rates, nil, testFees(), req)
	require.NoError(t, err)
	require.Equal(t, int64(30), q.Fee.Value) // 0.30 EUR base fee dominates 1.5% of 1.00
}

func TestPriceFromCustomPricing(t *testing.T) {
	rates := exchange.NewCache(nil)

	pricing := &catalog.VmCustomPricing{
		ID: 1, Currency: "EUR",
		CPUPricePerCore:    1.0,
		MemoryPricePerGiB:  0.5,
		DiskPricePerGiB:    0.1,
		DiskTypeMultiplier: map[catalog.DiskKind]float64{catalog.DiskKindSSD: 2.0},
	}
	custom := &catalog.VmCustomTemplate{
		ID: 1, PricingID: 1,
		CPU: 2, MemoryBytes: 4 << 30, DiskSizeBytes: 20 << 30,
		DiskType: catalog.DiskKindSSD,
	}

	req := PriceRequest{
		CustomTemplate: custom,
		CustomPricing:  pricing,
		UserCountry:    "US",
		CompanyCountry: "US",
		PaymentMethod:  catalog.PaymentMethodLightning,
		TargetCurrency: exchange.EUR,
	}

	q, err := Price(rates, nil, testFees(), req)
	require.NoError(t, err)
	// cpu: 2*1.0=2, mem: 4*0.5=2, disk: 20*0.1*2=4 -> 8.00 EUR = 800 cents
	require.Equal(t, int64(800), q.Price.Value)
}

func TestPriceConvertsAcrossCurrencies(t *testing.T) {
	rates := exchange.NewCache(nil)
	rates.Set(exchange.BTCTicker(exchange.EUR), 50_000, time.Now())
	rates.Set(exchange.BTCTicker(exchange.USD), 55_000, time.Now())

	req := PriceRequest{
		Template:       &catalog.VmTemplate{ID: 1},
		CostPlan:       &catalog.VmCostPlan{Amount: 10, Currency: "EUR"},
		UserCountry:    "US",
		CompanyCountry: "US",
		PaymentMethod:  catalog.PaymentMethodLightning,
		TargetCurrency: exchange.USD,
	}

	q, err := Price(rates, nil, testFees(), req)
	require.NoError(t, err)
	require.InDelta(t, 11.0, q.Price.Float(), 0.01)
}
