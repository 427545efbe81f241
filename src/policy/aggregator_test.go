package policy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airsense-india/airsense/src/api/data"
	"github.com/airsense-india/airsense/src/core"
)

func f(v float64) *float64 { return &v }

func TestEffectivenessAchievement(t *testing.T) {
	p := core.Policy{ID: 1, ExpectedReduction: 20, ActualReduction: f(18), EffectivenessScore: f(85)}
	got, err := Effectiveness(p)
	require.NoError(t, err)
	assert.Equal(t, 90.0, got.AchievementPercentage)
	require.NotNil(t, got.EffectivenessScore)
	assert.Equal(t, 85.0, *got.EffectivenessScore)
}

func TestEffectivenessRounding(t *testing.T) {
	p := core.Policy{ID: 1, ExpectedReduction: 15, ActualReduction: f(12)}
	got, err := Effectiveness(p)
	require.NoError(t, err)
	assert.Equal(t, 80.0, got.AchievementPercentage)

	p = core.Policy{ID: 1, ExpectedReduction: 30, ActualReduction: f(10)}
	got, err = Effectiveness(p)
	require.NoError(t, err)
	assert.Equal(t, 33.33, got.AchievementPercentage)
}

func TestEffectivenessErrors(t *testing.T) {
	t.Run("zero expected reduction", func(t *testing.T) {
		_, err := Effectiveness(core.Policy{ID: 4, ExpectedReduction: 0, ActualReduction: f(10)})
		var ipe *core.InvalidPolicyError
		require.True(t, errors.As(err, &ipe))
		assert.Equal(t, "expected_reduction", ipe.Field)
		assert.Equal(t, uint64(4), ipe.PolicyID)
	})
	t.Run("negative expected reduction", func(t *testing.T) {
		_, err := Effectiveness(core.Policy{ExpectedReduction: -5, ActualReduction: f(10)})
		var ipe *core.InvalidPolicyError
		assert.True(t, errors.As(err, &ipe))
	})
	t.Run("actual not measured", func(t *testing.T) {
		_, err := Effectiveness(core.Policy{ID: 9, ExpectedReduction: 20})
		var ide *core.IncompleteDataError
		require.True(t, errors.As(err, &ide))
		assert.Equal(t, "actual_reduction", ide.Field)
	})
}

func TestCostBenefit(t *testing.T) {
	got, err := CostBenefit(core.Policy{ID: 1}, 2450, 850)
	require.NoError(t, err)
	assert.Equal(t, 1600.0, got.NetBenefit)
	assert.Equal(t, 188.24, got.ROIPercent)

	got, err = CostBenefit(core.Policy{ID: 1}, 500, 1000)
	require.NoError(t, err)
	assert.Equal(t, -500.0, got.NetBenefit)
	assert.Equal(t, -50.0, got.ROIPercent)

	for _, cost := range []float64{0, -1} {
		_, err = CostBenefit(core.Policy{ID: 1}, 2450, cost)
		var ipe *core.InvalidPolicyError
		require.True(t, errors.As(err, &ipe), "cost=%v", cost)
		assert.Equal(t, "implementation_cost", ipe.Field)
	}
}

func TestDeterministic(t *testing.T) {
	p := core.Policy{ExpectedReduction: 7, ActualReduction: f(3)}
	first, err := Effectiveness(p)
	require.NoError(t, err)
	for i := 0; i < 100; i++ {
		again, err := Effectiveness(p)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestEvaluateAttachesNotes(t *testing.T) {
	imp := Evaluate(core.Policy{ID: 2, ExpectedReduction: 20})
	assert.Nil(t, imp.Effectiveness)
	assert.Contains(t, imp.EffectivenessNote, "actual_reduction")
	assert.Nil(t, imp.CostBenefit)
	assert.Contains(t, imp.CostBenefitNote, "implementation_cost")
}

func TestRecordMeasurement(t *testing.T) {
	ctx := context.Background()
	store := data.NewMemory()
	p := core.Policy{
		Name: "Odd-Even Vehicle Scheme", ExpectedReduction: 20, Status: core.PolicyActive,
		ImplementationDate: time.Date(2024, 11, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, store.SavePolicy(ctx, &p))

	agg := NewAggregator(store)
	imp, err := agg.RecordMeasurement(ctx, p.ID, Measurement{
		ActualReduction:    f(18),
		EffectivenessScore: f(85),
		ImplementationCost: f(850),
		HealthcareSavings:  f(2450),
	})
	require.NoError(t, err)
	require.NotNil(t, imp.Effectiveness)
	assert.Equal(t, 90.0, imp.Effectiveness.AchievementPercentage)
	require.NotNil(t, imp.CostBenefit)
	assert.Equal(t, 188.24, imp.CostBenefit.ROIPercent)

	stored, err := store.GetPolicy(ctx, p.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.ActualReduction)
	assert.Equal(t, 18.0, *stored.ActualReduction)

	_, err = agg.RecordMeasurement(ctx, p.ID, Measurement{ActualReduction: f(120)})
	var ve *core.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "actual_reduction", ve.Field)

	_, err = agg.RecordMeasurement(ctx, 404, Measurement{})
	var nf *core.NotFoundError
	assert.True(t, errors.As(err, &nf))
}
