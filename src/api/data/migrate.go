package data

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/airsense-india/airsense/src/api/types"
	"github.com/airsense-india/airsense/src/core"
)

// Migrate brings the schema up to date. When AutoMigrate fails, or reset is
// set, every table is dropped and recreated.
func Migrate(db *gorm.DB, reset bool, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}
	models := types.AllModels()
	if !reset {
		err := db.AutoMigrate(models...)
		if err == nil {
			return nil
		}
		log.Warn("auto-migrate failed, dropping & recreating schema", zap.Error(err))
	}
	tables := make([]interface{}, 0, len(types.TableNames()))
	for _, t := range types.TableNames() {
		tables = append(tables, t)
	}
	if err := db.Migrator().DropTable(tables...); err != nil {
		return fmt.Errorf("drop tables: %w", err)
	}
	if err := db.AutoMigrate(models...); err != nil {
		return fmt.Errorf("migrate after drop: %w", err)
	}
	return nil
}

func pct(v float64) *float64 { return &v }

// SamplePolicies is the demonstration policy set loaded by Seed.
func SamplePolicies() []core.Policy {
	date := func(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 0, 0, 0, 0, time.UTC) }
	return []core.Policy{
		{
			Name:               "Odd-Even Vehicle Scheme",
			Description:        "Vehicles with odd/even number plates allowed on alternate days",
			City:               "Delhi",
			ImplementationDate: date(2016, time.January, 1),
			ExpectedReduction:  20,
			ActualReduction:    pct(18.5),
			Status:             core.PolicySeasonal,
			EffectivenessScore: pct(85),
			ImplementationCost: 50_000_000,
			HealthcareSavings:  120_000_000,
		},
		{
			Name:               "Construction Ban During Severe AQI",
			Description:        "Halt all construction activities when AQI exceeds 400",
			City:               "Delhi",
			ImplementationDate: date(2019, time.November, 1),
			ExpectedReduction:  15,
			ActualReduction:    pct(12.3),
			Status:             core.PolicyActive,
			EffectivenessScore: pct(78),
			ImplementationCost: 20_000_000,
			HealthcareSavings:  45_000_000,
		},
		{
			Name:               "Stubble Burning Prevention",
			Description:        "Subsidies for alternative crop residue management",
			City:               "Delhi",
			ImplementationDate: date(2020, time.October, 1),
			ExpectedReduction:  30,
			ActualReduction:    pct(22.7),
			Status:             core.PolicyActive,
			EffectivenessScore: pct(72),
			ImplementationCost: 150_000_000,
			HealthcareSavings:  200_000_000,
		},
		{
			Name:               "Industrial Emission Standards",
			Description:        "Stricter emission norms for industries",
			City:               "Delhi",
			ImplementationDate: date(2021, time.April, 1),
			ExpectedReduction:  25,
			Status:             core.PolicyActive,
		},
	}
}

// Seeder is the write surface Seed needs.
type Seeder interface {
	ListPolicies(ctx context.Context, f core.PolicyFilter) ([]core.Policy, error)
	SavePolicy(ctx context.Context, p *core.Policy) error
}

// Seed loads SamplePolicies, skipping any whose name already exists. It
// returns the number inserted.
func Seed(ctx context.Context, s Seeder) (int, error) {
	existing, err := s.ListPolicies(ctx, core.PolicyFilter{})
	if err != nil {
		return 0, err
	}
	have := make(map[string]bool, len(existing))
	for _, p := range existing {
		have[p.Name] = true
	}
	n := 0
	for _, p := range SamplePolicies() {
		if have[p.Name] {
			continue
		}
		p := p
		if err := s.SavePolicy(ctx, &p); err != nil {
			return n, fmt.Errorf("seed %q: %w", p.Name, err)
		}
		n++
	}
	return n, nil
}
