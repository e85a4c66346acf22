package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantafe/tokensentry/internal/domain"
)

func advisory(conf domain.Confidence, risk float64, cat domain.TokenCategory, dev domain.DevRisk) domain.Advisory {
	return domain.Advisory{
		AssetID:        "mint111",
		Symbol:         "TEST",
		Recommendation: domain.RecommendationBuy,
		Confidence:     conf,
		RiskScore:      risk,
		Category:       cat,
		DevRisk:        dev,
	}
}

func TestStopLossPctWorkedExamples(t *testing.T) {
	c := New(DefaultParams())

	// 20% x 0.8 x 0.9 x 1.0 = 14.4%
	got := c.StopLossPct(advisory(domain.ConfidenceHigh, 2, domain.CategoryTech, domain.DevRiskLow))
	assert.InDelta(t, 0.144, got, 1e-9)

	// 12% x 1.3 x 1.3 x 0.7 = 14.196%
	got = c.StopLossPct(advisory(domain.ConfidenceLow, 9, domain.CategoryMeme, domain.DevRiskHigh))
	assert.InDelta(t, 0.14196, got, 1e-9)
}

func TestStopLossPctAlwaysWithinBounds(t *testing.T) {
	c := New(DefaultParams())
	confs := []domain.Confidence{domain.ConfidenceHigh, domain.ConfidenceMedium, domain.ConfidenceLow}
	cats := []domain.TokenCategory{
		domain.CategoryTech, domain.CategoryMeme, domain.CategoryViral,
		domain.CategoryGaming, domain.CategoryDefi, domain.CategoryUnknown,
	}
	devs := []domain.DevRisk{domain.DevRiskLow, domain.DevRiskMedium, domain.DevRiskHigh}
	vols := []float64{0, 0.2, 1.0, 2.5, 10}

	for riskScore := 0.0; riskScore <= 10.0; riskScore += 0.5 {
		for _, conf := range confs {
			for _, cat := range cats {
				for _, dev := range devs {
					for _, vol := range vols {
						adv := advisory(conf, riskScore, cat, dev)
						adv.VolatilityMultiplier = vol
						pct := c.StopLossPct(adv)
						assert.GreaterOrEqual(t, pct, 0.05)
						assert.LessOrEqual(t, pct, 0.30)
					}
				}
			}
		}
	}
}

func TestVolatilityMultiplierWidensAndTightens(t *testing.T) {
	c := New(DefaultParams())
	adv := advisory(domain.ConfidenceMedium, 5, domain.CategoryGaming, domain.DevRiskLow)

	base := c.StopLossPct(adv)
	assert.InDelta(t, 0.15, base, 1e-9)

	adv.VolatilityMultiplier = 1.5
	assert.InDelta(t, 0.225, c.StopLossPct(adv), 1e-9)

	adv.VolatilityMultiplier = 0.5
	assert.InDelta(t, 0.075, c.StopLossPct(adv), 1e-9)
}

func TestTakeProfitStagesScenario(t *testing.T) {
	c := New(DefaultParams())
	entry := 0.001234

	stages := c.TakeProfitStages(entry)
	require.Len(t, stages, 3)

	assert.InDelta(t, 0.001851, stages[0].Price, 1e-6)
	assert.InDelta(t, 0.002468, stages[1].Price, 1e-6)
	assert.InDelta(t, 0.003702, stages[2].Price, 1e-6)

	assert.Equal(t, 0.30, stages[0].ExitFraction)
	assert.Equal(t, 0.30, stages[1].ExitFraction)
	assert.Equal(t, 0.20, stages[2].ExitFraction)

	for _, st := range stages {
		assert.False(t, st.Executed)
	}
}

func TestStageFractionsPlusTrailingRemainderSumToOne(t *testing.T) {
	c := New(DefaultParams())
	total := c.TrailingRemainder()
	for _, st := range c.TakeProfitStages(1.0) {
		total += st.ExitFraction
	}
	assert.InDelta(t, 1.0, total, 1e-12)
	assert.InDelta(t, 0.20, c.TrailingRemainder(), 1e-12)
}

func TestTrailingActivationAndDistance(t *testing.T) {
	c := New(DefaultParams())

	assert.False(t, c.ShouldActivateTrailing(1.0, 1.29))
	assert.True(t, c.ShouldActivateTrailing(1.0, 1.30))
	assert.True(t, c.ShouldActivateTrailing(1.0, 2.0))

	assert.Equal(t, 0.15, c.TrailingDistance(domain.ConfidenceHigh))
	assert.Equal(t, 0.20, c.TrailingDistance(domain.ConfidenceMedium))
	assert.Equal(t, 0.25, c.TrailingDistance(domain.ConfidenceLow))

	assert.InDelta(t, 1.7, TrailingStopPrice(2.0, 0.15), 1e-9)
}

func TestTimeDecayTightensMonotonically(t *testing.T) {
	c := New(DefaultParams())
	opened := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	base := 0.20

	// No decay before 24h.
	assert.Equal(t, base, c.TimeDecayedStopLossPct(base, opened, opened.Add(23*time.Hour)))

	// One full day: base * 0.9.
	assert.InDelta(t, 0.18, c.TimeDecayedStopLossPct(base, opened, opened.Add(24*time.Hour)), 1e-9)

	// Non-increasing over elapsed days, floored at 5%.
	prev := base
	for days := 1; days <= 30; days++ {
		pct := c.TimeDecayedStopLossPct(base, opened, opened.Add(time.Duration(days)*24*time.Hour))
		assert.LessOrEqual(t, pct, prev)
		assert.GreaterOrEqual(t, pct, 0.05)
		prev = pct
	}
}

func TestTimeDecayIsIdempotentAcrossTicks(t *testing.T) {
	c := New(DefaultParams())
	opened := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	now := opened.Add(72 * time.Hour)

	first := c.TimeDecayedStopLossPct(0.144, opened, now)
	second := c.TimeDecayedStopLossPct(0.144, opened, now)
	assert.Equal(t, first, second)
}

func TestAssessRatings(t *testing.T) {
	c := New(DefaultParams())

	// 0.50 / 0.144 = 3.47 => EXCELLENT.
	adv := advisory(domain.ConfidenceHigh, 2, domain.CategoryTech, domain.DevRiskLow)
	assert.Equal(t, domain.RatingExcellent, c.Assess(adv, c.StopLossPct(adv)))

	// 0.50 / 0.25 = 2.0 => GOOD.
	assert.Equal(t, domain.RatingGood, c.Assess(advisory(domain.ConfidenceMedium, 2, domain.CategoryGaming, domain.DevRiskLow), 0.25))

	// 0.50 / 0.30 = 1.67 => FAIR.
	assert.Equal(t, domain.RatingFair, c.Assess(advisory(domain.ConfidenceMedium, 2, domain.CategoryGaming, domain.DevRiskLow), 0.30))

	// Ratio below 1.5 => POOR.
	assert.Equal(t, domain.RatingPoor, c.Assess(advisory(domain.ConfidenceMedium, 2, domain.CategoryGaming, domain.DevRiskLow), 0.40))
}

func TestAssessOverridesForcePoor(t *testing.T) {
	c := New(DefaultParams())

	// risk_score >= 7 forces POOR even with an excellent ratio.
	adv := advisory(domain.ConfidenceHigh, 9, domain.CategoryTech, domain.DevRiskLow)
	assert.Equal(t, domain.RatingPoor, c.Assess(adv, 0.10))

	// HIGH dev risk forces POOR even with an excellent ratio.
	adv = advisory(domain.ConfidenceHigh, 2, domain.CategoryTech, domain.DevRiskHigh)
	assert.Equal(t, domain.RatingPoor, c.Assess(adv, 0.10))
}

func TestBuildProfileScenario(t *testing.T) {
	c := New(DefaultParams())
	entry := 0.001234
	adv := advisory(domain.ConfidenceHigh, 2, domain.CategoryTech, domain.DevRiskLow)

	p := c.BuildProfile(entry, adv)
	assert.InDelta(t, 0.144, p.StopLossPct, 1e-9)
	assert.InDelta(t, 0.001056, p.StopLossPrice, 1e-6)
	require.Len(t, p.Stages, 3)
	assert.Equal(t, 0.15, p.TrailingDistancePct)
	assert.Equal(t, domain.RatingExcellent, p.Rating)
}
