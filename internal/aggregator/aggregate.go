// Package aggregator implements the price aggregation stage (C4): it turns
// a set of fresh PricePoints for a symbol into a single consensus
// AggregatedPrice, discarding outliers, and emits cross-venue
// price_arbitrage Opportunities when two venues diverge beyond the
// configured fee ceiling.
package aggregator

import (
	"math"
	"sort"
	"time"

	"github.com/arbitonlabs/arbiton/internal/config"
	"github.com/arbitonlabs/arbiton/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	modifiedZScoreConstant = 0.6745
	modifiedZScoreCutoff   = 3.5
)

// Aggregate reduces points (assumed already filtered to a single symbol) to
// a consensus AggregatedPrice plus any cross-venue arbitrage Opportunities
// it implies. The third return value is false when there were too few
// fresh sources to aggregate at all, in which case the other two returns
// are zero values.
//
// Aggregate is a pure function of its arguments (no wall-clock reads, no
// shared state) so it can be exercised directly by tests and reused
// unchanged by the aggregator Worker.
func Aggregate(symbol string, points []domain.PricePoint, now time.Time, cfg config.AggregatorConfig) (domain.AggregatedPrice, []domain.Opportunity, bool) {
	fresh := freshPoints(points, now, cfg.MaxPriceAge.Duration)
	if len(fresh) < cfg.MinSources {
		return domain.AggregatedPrice{}, nil, false
	}

	kept, outliers := filterOutliers(fresh, cfg.OutlierThreshold)
	if len(kept) == 0 {
		return domain.AggregatedPrice{}, nil, false
	}

	agg := weightedAggregate(symbol, kept, outliers, now, cfg)
	opps := crossVenueOpportunities(kept, agg, now, cfg)

	return agg, opps, true
}

func freshPoints(points []domain.PricePoint, now time.Time, maxAge time.Duration) []domain.PricePoint {
	fresh := make([]domain.PricePoint, 0, len(points))
	for _, p := range points {
		if !p.Valid() {
			continue
		}
		if maxAge > 0 && p.Age(now) > maxAge {
			continue
		}
		fresh = append(fresh, p)
	}
	return fresh
}

// filterOutliers discards points whose price is an outlier by modified
// Z-score against the median (skipped when the MAD collapses to zero), or
// whose relative deviation from the median exceeds outlierThreshold.
func filterOutliers(points []domain.PricePoint, outlierThreshold float64) (kept, outliers []domain.PricePoint) {
	prices := make([]float64, len(points))
	for i, p := range points {
		prices[i] = p.Price
	}
	med := median(prices)

	deviations := make([]float64, len(prices))
	for i, p := range prices {
		deviations[i] = math.Abs(p - med)
	}
	mad := median(deviations)

	for i, p := range points {
		dev := deviations[i]
		isOutlier := false
		if mad > 0 {
			z := modifiedZScoreConstant * dev / mad
			isOutlier = z > modifiedZScoreCutoff
		}
		if !isOutlier && med != 0 && outlierThreshold > 0 {
			isOutlier = dev/med > outlierThreshold
		}
		if isOutlier {
			outliers = append(outliers, p)
		} else {
			kept = append(kept, p)
		}
	}
	return kept, outliers
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

func weightedAggregate(symbol string, kept, outliers []domain.PricePoint, now time.Time, cfg config.AggregatorConfig) domain.AggregatedPrice {
	numerator := decimal.Zero
	denominator := decimal.Zero
	volNumerator := decimal.Zero
	volDenominator := decimal.Zero

	var reliabilitySum float64
	var ageSum time.Duration
	minPrice, maxPrice := math.MaxFloat64, -math.MaxFloat64

	for _, p := range kept {
		weight := decimal.NewFromFloat(nonZero(p.Weight, 1.0))
		confidence := decimal.NewFromFloat(nonZero(p.Confidence, 1.0))
		price := decimal.NewFromFloat(p.Price)

		wc := weight.Mul(confidence)
		numerator = numerator.Add(price.Mul(wc))
		denominator = denominator.Add(wc)

		if p.Volume > 0 {
			vol := decimal.NewFromFloat(p.Volume)
			volNumerator = volNumerator.Add(price.Mul(vol))
			volDenominator = volDenominator.Add(vol)
		}

		reliabilitySum += p.Confidence
		ageSum += p.Age(now)

		if p.Price < minPrice {
			minPrice = p.Price
		}
		if p.Price > maxPrice {
			maxPrice = p.Price
		}
	}

	price := 0.0
	if !denominator.IsZero() {
		price, _ = numerator.Div(denominator).Float64()
	}

	vwap := 0.0
	if !volDenominator.IsZero() {
		vwap, _ = volNumerator.Div(volDenominator).Float64()
	}

	spread := 0.0
	if minPrice > 0 && maxPrice >= minPrice {
		spread = (maxPrice - minPrice) / minPrice
	}

	avgReliability := reliabilitySum / float64(len(kept))
	avgAge := ageSum / time.Duration(len(kept))

	confidence := confidenceScore(len(kept), spread, avgReliability, avgAge, cfg.MaxPriceAge.Duration)

	return domain.AggregatedPrice{
		Symbol:              symbol,
		Price:                price,
		VolumeWeightedPrice:  vwap,
		Confidence:           confidence,
		Spread:               spread,
		SourceCount:          len(kept),
		OutlierCount:         len(outliers),
		Contributing:         kept,
		ComputedAt:           now,
	}
}

// confidenceScore implements the step-then-penalize confidence formula:
// base rises with source count, then each of spread, source reliability
// and staleness multiplicatively discounts it.
func confidenceScore(sourceCount int, spread, avgReliability float64, avgAge, maxAge time.Duration) float64 {
	base := math.Min(0.4+0.15*float64(sourceCount-1), 0.9)
	spreadFactor := math.Max(0.3, 1-10*spread)
	ageFactor := 1.0
	if maxAge > 0 {
		ageFactor = math.Max(0.5, 1-float64(avgAge)/float64(maxAge))
	}
	c := base * spreadFactor * avgReliability * ageFactor
	return clamp(c, 0.1, 1.0)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func nonZero(v, fallback float64) float64 {
	if v <= 0 {
		return fallback
	}
	return v
}

// crossVenueOpportunities emits one price_arbitrage Opportunity per pair of
// distinct venues among kept whose relative spread exceeds the fee
// ceiling, buy-low/sell-high oriented.
func crossVenueOpportunities(kept []domain.PricePoint, agg domain.AggregatedPrice, now time.Time, cfg config.AggregatorConfig) []domain.Opportunity {
	var opps []domain.Opportunity

	for i := 0; i < len(kept); i++ {
		for j := i + 1; j < len(kept); j++ {
			a, b := kept[i], kept[j]
			if a.Venue == "" || b.Venue == "" || a.Venue == b.Venue {
				continue
			}

			buy, sell := a, b
			if buy.Price > sell.Price {
				buy, sell = sell, buy
			}
			if buy.Price <= 0 {
				continue
			}

			mean := (buy.Price + sell.Price) / 2
			grossSpread := (sell.Price - buy.Price) / mean
			if grossSpread <= cfg.FeeCeiling {
				continue
			}

			opps = append(opps, buildArbitrageOpportunity(agg.Symbol, buy, sell, grossSpread, agg.Confidence, now, cfg))
		}
	}

	return opps
}

func buildArbitrageOpportunity(symbol string, buy, sell domain.PricePoint, grossSpread, confidence float64, now time.Time, cfg config.AggregatorConfig) domain.Opportunity {
	feeBudget := cfg.FeeBudgetPct
	netProfit := grossSpread - feeBudget

	tradeSize := 1000.0 // nominal USD notional used for the price-impact estimate
	liquidity := combinedLiquidity(buy, sell)
	impact := priceImpact(tradeSize, liquidity)

	liquidityScore := liquidityTier(liquidity)
	risk := arbitrageRiskScore(netProfit, grossSpread, liquidityScore)

	return domain.Opportunity{
		ID:         uuid.NewString(),
		Type:       domain.OpportunityPriceArbitrage,
		Symbol:     symbol,
		Source:     "aggregator",
		DetectedAt: now,
		Urgency:    arbitrageUrgency(netProfit),
		Status:     domain.StatusDetected,
		Confidence: confidence,
		Arbitrage: &domain.ArbitragePayload{
			BuyVenue:              buy.Venue,
			SellVenue:             sell.Venue,
			BuyPrice:              buy.Price,
			SellPrice:             sell.Price,
			GrossSpreadPercentage: grossSpread,
			FeeBudgetPercentage:   feeBudget,
			NetProfitPercentage:   netProfit,
			PriceImpact:           impact,
			LiquidityScore:        liquidityScore,
			RiskScore:             risk,
		},
	}
}

func combinedLiquidity(a, b domain.PricePoint) float64 {
	return a.Liquidity + b.Liquidity
}

// priceImpact uses the square-root model: impact grows with the square
// root of trade size relative to available liquidity.
func priceImpact(tradeSize, liquidity float64) domain.PriceImpact {
	if liquidity <= 0 {
		return domain.PriceImpact{BuySide: 1, SellSide: 1, Total: 1}
	}
	side := math.Sqrt(tradeSize/liquidity) * 0.01
	return domain.PriceImpact{BuySide: side, SellSide: side, Total: 2 * side}
}

func liquidityTier(liquidity float64) domain.LiquidityTier {
	switch {
	case liquidity >= 500_000:
		return domain.LiquidityHigh
	case liquidity >= 50_000:
		return domain.LiquidityMedium
	default:
		return domain.LiquidityLow
	}
}

func arbitrageUrgency(netProfit float64) domain.Urgency {
	switch {
	case netProfit >= 0.02:
		return domain.UrgencyHigh
	case netProfit >= 0.005:
		return domain.UrgencyMedium
	default:
		return domain.UrgencyLow
	}
}

// arbitrageRiskScore combines low-profit, high-spread and low-liquidity
// penalties into a 0-100 risk score, capped.
func arbitrageRiskScore(netProfit, grossSpread float64, liquidity domain.LiquidityTier) float64 {
	risk := 0.0
	if netProfit < 0.01 {
		risk += 30
	}
	if grossSpread > 0.05 {
		risk += 30
	}
	switch liquidity {
	case domain.LiquidityLow:
		risk += 40
	case domain.LiquidityMedium:
		risk += 15
	}
	return math.Min(risk, 100)
}
