package stats

import (
	"math"
	"slices"
)

// Z95 is the two-sided standard normal critical value for 95% confidence.
const Z95 = 1.959963984540054

// DefaultMinParticipants is the sample size every variant needs before a
// winner can be called.
const DefaultMinParticipants = 100

// Counts are the raw per-variant aggregates an experiment produced.
type Counts struct {
	Variant      string
	Participants int64
	// Conversions is a distinct-user count for first-occurrence events and a
	// summed value for accumulating events.
	Conversions float64
}

// Interval is a closed confidence interval.
type Interval struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
}

// Overlaps reports whether the two intervals share at least one point.
func (i Interval) Overlaps(o Interval) bool {
	return i.Lower <= o.Upper && o.Lower <= i.Upper
}

// VariantStats is the derived outcome of one variant.
type VariantStats struct {
	Variant            string   `json:"variant"`
	ParticipantCount   int64    `json:"participant_count"`
	ConversionCount    float64  `json:"conversion_count"`
	ConversionRate     float64  `json:"conversion_rate"`
	ConfidenceInterval Interval `json:"confidence_interval"`
}

// Config controls interval width and the winner decision.
type Config struct {
	// Z is the critical value of the interval; Z95 by default.
	Z float64
	// MinParticipants every variant must reach before DetectWinner decides.
	MinParticipants int64
	// ControlVariant is the baseline challengers are compared against.
	ControlVariant string
}

// DefaultConfig returns 95% Wald intervals, 100 participants per variant and
// "control" as baseline.
func DefaultConfig() Config {
	return Config{
		Z:               Z95,
		MinParticipants: DefaultMinParticipants,
		ControlVariant:  "control",
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Z <= 0 {
		c.Z = d.Z
	}
	if c.MinParticipants <= 0 {
		c.MinParticipants = d.MinParticipants
	}
	if c.ControlVariant == "" {
		c.ControlVariant = d.ControlVariant
	}
	return c
}

// Compute derives rates and confidence intervals, preserving input order.
func Compute(counts []Counts, cfg Config) []VariantStats {
	cfg = cfg.withDefaults()
	out := make([]VariantStats, 0, len(counts))
	for _, c := range counts {
		rate := 0.0
		if c.Participants > 0 {
			rate = c.Conversions / float64(c.Participants)
		}
		out = append(out, VariantStats{
			Variant:            c.Variant,
			ParticipantCount:   c.Participants,
			ConversionCount:    c.Conversions,
			ConversionRate:     rate,
			ConfidenceInterval: WaldInterval(rate, c.Participants, cfg.Z),
		})
	}
	return out
}

// WaldInterval is the normal approximation to the binomial proportion:
// rate ± z·sqrt(rate·(1-rate)/n). The variance term uses the rate clamped to
// [0,1], and bounds never go below 0 (or above 1 for proportions).
func WaldInterval(rate float64, n int64, z float64) Interval {
	if n <= 0 {
		return Interval{Lower: 0, Upper: 0}
	}
	p := math.Min(math.Max(rate, 0), 1)
	half := z * math.Sqrt(p*(1-p)/float64(n))

	lower := math.Max(rate-half, 0)
	upper := rate + half
	if rate <= 1 {
		upper = math.Min(upper, 1)
	}
	return Interval{Lower: lower, Upper: upper}
}

// DetectWinner picks the challenger that beats control, if any.
//
// A decision needs every variant to have at least MinParticipants. A
// challenger qualifies when its point estimate exceeds control's and its
// interval lies entirely above control's. If several qualify, the highest
// rate wins; ties keep input order.
func DetectWinner(results []VariantStats, cfg Config) (string, bool) {
	cfg = cfg.withDefaults()

	idx := slices.IndexFunc(results, func(v VariantStats) bool {
		return v.Variant == cfg.ControlVariant
	})
	if idx < 0 || len(results) < 2 {
		return "", false
	}
	for _, v := range results {
		if v.ParticipantCount < cfg.MinParticipants {
			return "", false
		}
	}

	control := results[idx]
	var (
		winner string
		best   = math.Inf(-1)
	)
	for _, v := range results {
		if v.Variant == control.Variant {
			continue
		}
		if v.ConversionRate <= control.ConversionRate {
			continue
		}
		if v.ConfidenceInterval.Overlaps(control.ConfidenceInterval) {
			continue
		}
		if v.ConversionRate > best {
			winner, best = v.Variant, v.ConversionRate
		}
	}
	return winner, winner != ""
}
