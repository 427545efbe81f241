package policy

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/airsense-india/airsense/src/core"
)

var hundred = decimal.NewFromInt(100)

// EffectivenessReport is the measured outcome of a policy against its target.
type EffectivenessReport struct {
	EffectivenessScore    *float64 `json:"effectiveness_score"`
	AchievementPercentage float64  `json:"achievement_percentage"`
}

// CostBenefitReport is the financial return of a policy.
type CostBenefitReport struct {
	HealthcareSavings  float64 `json:"healthcare_savings"`
	ImplementationCost float64 `json:"implementation_cost"`
	NetBenefit         float64 `json:"net_benefit"`
	ROIPercent         float64 `json:"roi_percent"`
}

// Effectiveness derives the achievement percentage of p. The effectiveness
// score is the measured value recorded on the policy, passed through.
func Effectiveness(p core.Policy) (EffectivenessReport, error) {
	if p.ExpectedReduction <= 0 {
		return EffectivenessReport{}, &core.InvalidPolicyError{
			PolicyID: p.ID, Field: "expected_reduction", Reason: "must be greater than zero",
		}
	}
	if p.ActualReduction == nil {
		return EffectivenessReport{}, &core.IncompleteDataError{PolicyID: p.ID, Field: "actual_reduction"}
	}
	pct := decimal.NewFromFloat(*p.ActualReduction).
		Div(decimal.NewFromFloat(p.ExpectedReduction)).
		Mul(hundred).
		Round(2)
	return EffectivenessReport{
		EffectivenessScore:    p.EffectivenessScore,
		AchievementPercentage: pct.InexactFloat64(),
	}, nil
}

// CostBenefit derives net benefit and ROI from the given figures.
func CostBenefit(p core.Policy, healthcareSavings, implementationCost float64) (CostBenefitReport, error) {
	if implementationCost <= 0 {
		return CostBenefitReport{}, &core.InvalidPolicyError{
			PolicyID: p.ID, Field: "implementation_cost", Reason: "must be greater than zero",
		}
	}
	cost := decimal.NewFromFloat(implementationCost)
	net := decimal.NewFromFloat(healthcareSavings).Sub(cost)
	roi := net.Div(cost).Mul(hundred).Round(2)
	return CostBenefitReport{
		HealthcareSavings:  healthcareSavings,
		ImplementationCost: implementationCost,
		NetBenefit:         net.Round(2).InexactFloat64(),
		ROIPercent:         roi.InexactFloat64(),
	}, nil
}

// Impact is a policy with both metrics attached. A metric that cannot be
// derived is nil and its reason is set instead.
type Impact struct {
	Policy            core.Policy          `json:"policy"`
	Effectiveness     *EffectivenessReport `json:"effectiveness"`
	EffectivenessNote string               `json:"effectiveness_note,omitempty"`
	CostBenefit       *CostBenefitReport   `json:"cost_benefit"`
	CostBenefitNote   string               `json:"cost_benefit_note,omitempty"`
}

// Evaluate computes both metrics from the figures recorded on p.
func Evaluate(p core.Policy) Impact {
	out := Impact{Policy: p}
	if eff, err := Effectiveness(p); err != nil {
		out.EffectivenessNote = err.Error()
	} else {
		out.Effectiveness = &eff
	}
	if cb, err := CostBenefit(p, p.HealthcareSavings, p.ImplementationCost); err != nil {
		out.CostBenefitNote = err.Error()
	} else {
		out.CostBenefit = &cb
	}
	return out
}

// Measurement carries newly measured policy figures. Nil fields are left as
// they are.
type Measurement struct {
	ActualReduction    *float64 `json:"actual_reduction"`
	EffectivenessScore *float64 `json:"effectiveness_score"`
	ImplementationCost *float64 `json:"implementation_cost"`
	HealthcareSavings  *float64 `json:"healthcare_savings"`
	Status             string   `json:"status"`
}

func percentField(field string, v *float64) error {
	if v == nil {
		return nil
	}
	if *v < 0 || *v > 100 {
		return &core.ValidationError{Field: field, Reason: "must be between 0 and 100"}
	}
	return nil
}

func amountField(field string, v *float64) error {
	if v != nil && *v < 0 {
		return &core.ValidationError{Field: field, Reason: "must not be negative"}
	}
	return nil
}

// Validate checks the figures before they are stored.
func (m Measurement) Validate() error {
	return errors.Join(
		percentField("actual_reduction", m.ActualReduction),
		percentField("effectiveness_score", m.EffectivenessScore),
		amountField("implementation_cost", m.ImplementationCost),
		amountField("healthcare_savings", m.HealthcareSavings),
	)
}

// Aggregator applies measurements to stored policies.
type Aggregator struct {
	store core.Store
}

func NewAggregator(store core.Store) *Aggregator {
	return &Aggregator{store: store}
}

// Impact loads one policy and evaluates it.
func (a *Aggregator) Impact(ctx context.Context, id uint64) (Impact, error) {
	p, err := a.store.GetPolicy(ctx, id)
	if err != nil {
		return Impact{}, notFound(err, id)
	}
	return Evaluate(p), nil
}

// RecordMeasurement stores new figures for a policy and returns the
// recomputed impact.
func (a *Aggregator) RecordMeasurement(ctx context.Context, id uint64, m Measurement) (Impact, error) {
	if err := m.Validate(); err != nil {
		return Impact{}, err
	}
	var status core.PolicyStatus
	if m.Status != "" {
		s, err := core.ParsePolicyStatus(m.Status)
		if err != nil {
			return Impact{}, err
		}
		status = s
	}
	p, err := a.store.GetPolicy(ctx, id)
	if err != nil {
		return Impact{}, notFound(err, id)
	}
	if m.ActualReduction != nil {
		p.ActualReduction = m.ActualReduction
	}
	if m.EffectivenessScore != nil {
		p.EffectivenessScore = m.EffectivenessScore
	}
	if m.ImplementationCost != nil {
		p.ImplementationCost = *m.ImplementationCost
	}
	if m.HealthcareSavings != nil {
		p.HealthcareSavings = *m.HealthcareSavings
	}
	if status != "" {
		p.Status = status
	}
	if err := a.store.SavePolicy(ctx, &p); err != nil {
		return Impact{}, err
	}
	return Evaluate(p), nil
}

func notFound(err error, id uint64) error {
	if errors.Is(err, core.ErrNotFound) {
		return &core.NotFoundError{Entity: "policy", ID: fmt.Sprint(id)}
	}
	return err
}
