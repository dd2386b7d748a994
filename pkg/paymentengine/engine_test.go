package paymentengine

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lnvps/lnvpsd/pkg/catalog"
)

func TestCreditedSecondsNoCostPlanDefaultsToFlatMonth(t *testing.T) {
	require.Equal(t, 30*secondsPerDay, creditedSeconds(nil))
}

func TestCreditedSecondsDailyCostPlan(t *testing.T) {
	plan := &catalog.VmCostPlan{IntervalAmount: 7, IntervalType: catalog.IntervalDay}
	require.Equal(t, 7*secondsPerDay, creditedSeconds(plan))
}

func TestCreditedSecondsMonthlyCostPlan(t *testing.T) {
	plan := &catalog.VmCostPlan{IntervalAmount: 1, IntervalType: catalog.IntervalMonth}
	require.Equal(t, secondsPerMonth, creditedSeconds(plan))
}

func TestCreditedSecondsYearlyCostPlan(t *testing.T) {
	plan := &catalog.VmCostPlan{IntervalAmount: 1, IntervalType: catalog.IntervalYear}
	require.Equal(t, secondsPerYear, creditedSeconds(plan))
}
