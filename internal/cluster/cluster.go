// Package cluster is the volume-cluster analyzer (C4): it bins intraday
// (price, volume) pairs into price zones, keeps the most significant zones,
// and labels each support/resistance/neutral relative to the current price.
// Grounded on original_source/core/cluster_analyzer.py's binning and
// renormalization algorithm.
package cluster

import (
	"fmt"
	"sort"
	"strings"

	"panicker/internal/signal"
)

const defaultMinVolumeShare = 0.1

// Analyzer holds the cluster count (top-K zones kept after filtering) and
// the minimum volume share a zone needs to be considered significant.
type Analyzer struct {
	NumClusters    int
	MinVolumeShare float64
}

// New builds an Analyzer keeping the top numClusters zones with the default
// minimum volume share. Use WithMinVolumeShare to override it.
func New(numClusters int) *Analyzer {
	if numClusters <= 0 {
		numClusters = 3
	}
	return &Analyzer{NumClusters: numClusters, MinVolumeShare: defaultMinVolumeShare}
}

// WithMinVolumeShare overrides the minimum volume share a zone needs to be
// kept, per spec.md section 6's configuration surface.
func (a *Analyzer) WithMinVolumeShare(share float64) *Analyzer {
	if share > 0 {
		a.MinVolumeShare = share
	}
	return a
}

type bin struct {
	priceLevel float64
	volume     float64
}

// Analyze bins prices/volumes into price zones, keeps the significant ones,
// and assigns each a role relative to the last price in the series.
func (a *Analyzer) Analyze(prices, volumes []float64) []signal.VolumeCluster {
	if len(prices) == 0 || len(volumes) == 0 || len(prices) != len(volumes) {
		return nil
	}

	bins := groupByPriceZone(prices, volumes)
	selected := selectSignificant(bins, a.NumClusters, a.MinVolumeShare)
	return assignRoles(selected, prices[len(prices)-1])
}

func groupByPriceZone(prices, volumes []float64) []bin {
	minPrice, maxPrice := prices[0], prices[0]
	for _, p := range prices {
		if p < minPrice {
			minPrice = p
		}
		if p > maxPrice {
			maxPrice = p
		}
	}

	if maxPrice == minPrice {
		var total float64
		for _, v := range volumes {
			total += v
		}
		return []bin{{priceLevel: prices[0], volume: total}}
	}

	distinct := map[float64]bool{}
	for _, p := range prices {
		distinct[p] = true
	}
	numBins := len(distinct)
	if numBins > 20 {
		numBins = 20
	}
	width := (maxPrice - minPrice) / float64(numBins)

	bins := make([]bin, 0, numBins)
	for i := 0; i < numBins; i++ {
		lower := minPrice + float64(i)*width
		upper := minPrice + float64(i+1)*width
		var zoneVolume float64
		for j, p := range prices {
			if p >= lower && p <= upper {
				zoneVolume += volumes[j]
			}
		}
		if zoneVolume > 0 {
			bins = append(bins, bin{priceLevel: (lower + upper) / 2, volume: zoneVolume})
		}
	}
	return bins
}

func selectSignificant(bins []bin, numClusters int, minVolumeShare float64) []bin {
	if len(bins) == 0 {
		return nil
	}
	sort.SliceStable(bins, func(i, j int) bool {
		if bins[i].volume != bins[j].volume {
			return bins[i].volume > bins[j].volume
		}
		return bins[i].priceLevel < bins[j].priceLevel
	})

	var total float64
	for _, b := range bins {
		total += b.volume
	}

	significant := make([]bin, 0, len(bins))
	for _, b := range bins {
		share := 0.0
		if total > 0 {
			share = b.volume / total
		}
		if share >= minVolumeShare {
			significant = append(significant, b)
		}
	}

	if len(significant) > numClusters {
		significant = significant[:numClusters]
	}
	return significant
}

func assignRoles(bins []bin, currentPrice float64) []signal.VolumeCluster {
	if len(bins) == 0 {
		return nil
	}

	var selectedVolume float64
	for _, b := range bins {
		selectedVolume += b.volume
	}

	out := make([]signal.VolumeCluster, 0, len(bins))
	for _, b := range bins {
		pct := 0.0
		if selectedVolume > 0 {
			pct = (b.volume / selectedVolume) * 100
		}

		var role signal.Role
		switch {
		case b.priceLevel < currentPrice:
			role = signal.RoleSupport
		case b.priceLevel > currentPrice:
			role = signal.RoleResistance
		default:
			role = signal.RoleNeutral
		}

		significance := pct / 100 * 2
		if significance > 1.0 {
			significance = 1.0
		}

		out = append(out, signal.VolumeCluster{
			PriceLevel:       b.priceLevel,
			VolumePercentage: pct,
			VolumeAmount:     b.volume,
			Role:             role,
			Significance:     significance,
		})
	}
	return out
}

// Summary builds the human-legible prose attached to a signal's
// ClusterSummary field.
func Summary(clusters []signal.VolumeCluster) string {
	if len(clusters) == 0 {
		return "No significant volume clusters found"
	}
	var b strings.Builder
	b.WriteString("Key volume levels:\n")
	for i, c := range clusters {
		fmt.Fprintf(&b, "%d. %.2f (%s) - volume share %.1f%%, significance %.2f/1.0\n",
			i+1, c.PriceLevel, c.Role, c.VolumePercentage, c.Significance)
	}
	return b.String()
}
