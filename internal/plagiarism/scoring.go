package plagiarism

import (
	"fmt"
	"sort"
)

// RiskTier grades a cluster
type RiskTier string

const (
	RiskLow    RiskTier = "low"
	RiskMedium RiskTier = "medium"
	RiskHigh   RiskTier = "high"
)

// PairRisk grades a single high-similarity pair
type PairRisk string

const (
	PairClean            PairRisk = "clean"
	PairSuspicious       PairRisk = "suspicious"
	PairHighlySuspicious PairRisk = "highly_suspicious"
	PairNearCopy         PairRisk = "near_copy"
)

// RiskThresholds are the ladders used to grade clusters and pairs. They are
// uncalibrated and come from configuration.
type RiskThresholds struct {
	ClusterHighAverage   float64
	ClusterHighStrength  float64
	ClusterMediumAverage float64

	PairSuspicious       float64
	PairHighlySuspicious float64
	PairNearCopy         float64
}

// DefaultRiskThresholds returns the stock ladders
func DefaultRiskThresholds() RiskThresholds {
	return RiskThresholds{
		ClusterHighAverage:   0.8,
		ClusterHighStrength:  0.5,
		ClusterMediumAverage: 0.6,
		PairSuspicious:       0.3,
		PairHighlySuspicious: 0.6,
		PairNearCopy:         0.85,
	}
}

// Validate checks that both ladders are ordered and inside [0,1]
func (t RiskThresholds) Validate() error {
	for name, v := range map[string]float64{
		"cluster high average":   t.ClusterHighAverage,
		"cluster high strength":  t.ClusterHighStrength,
		"cluster medium average": t.ClusterMediumAverage,
		"pair suspicious":        t.PairSuspicious,
		"pair highly suspicious": t.PairHighlySuspicious,
		"pair near copy":         t.PairNearCopy,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s threshold must be within [0,1], got %g", name, v)
		}
	}
	if t.ClusterMediumAverage > t.ClusterHighAverage {
		return fmt.Errorf("cluster medium average %g exceeds high average %g", t.ClusterMediumAverage, t.ClusterHighAverage)
	}
	if t.PairSuspicious > t.PairHighlySuspicious || t.PairHighlySuspicious > t.PairNearCopy {
		return fmt.Errorf("pair risk thresholds must be ascending")
	}
	return nil
}

// ClusterRisk grades a cluster by its average similarity and strength
func (t RiskThresholds) ClusterRisk(averageSimilarity, strength float64) RiskTier {
	if averageSimilarity >= t.ClusterHighAverage && strength >= t.ClusterHighStrength {
		return RiskHigh
	} else if averageSimilarity >= t.ClusterMediumAverage {
		return RiskMedium
	}
	return RiskLow
}

// PairRisk grades a pair by a similarity fraction
func (t RiskThresholds) PairRisk(score float64) PairRisk {
	if score < t.PairSuspicious {
		return PairClean
	} else if score < t.PairHighlySuspicious {
		return PairSuspicious
	} else if score < t.PairNearCopy {
		return PairHighlySuspicious
	}
	return PairNearCopy
}

// summarize computes the distribution summary over a set of scores
func summarize(scores []float64, buckets map[string][]int) *Distribution {
	d := &Distribution{Buckets: buckets}
	if len(scores) == 0 {
		return d
	}

	sorted := append([]float64(nil), scores...)
	sort.Float64s(sorted)

	sum := 0.0
	for _, s := range sorted {
		sum += s
	}
	d.Average = sum / float64(len(sorted))
	d.Min = sorted[0]
	d.Max = sorted[len(sorted)-1]

	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		d.Median = (sorted[mid-1] + sorted[mid]) / 2
	} else {
		d.Median = sorted[mid]
	}
	return d
}

// Action is the review step suggested for a cluster
type Action string

const (
	ActionImmediateReview Action = "immediate_review"
	ActionManualCheck     Action = "manual_check"
	ActionMonitor         Action = "monitor"
)

// RecommendedAction maps a cluster risk tier to a review action
func RecommendedAction(tier RiskTier) Action {
	switch tier {
	case RiskHigh:
		return ActionImmediateReview
	case RiskMedium:
		return ActionManualCheck
	default:
		return ActionMonitor
	}
}
