package scanner

import (
	"context"
	"fmt"
	"time"

	"panicker/internal/cache"
	"panicker/internal/market"
)

const avgVolumeCacheTTL = time.Hour

// volumeSource implements filter.AverageVolumeSource: a historical average
// volume lookup for one instrument, cached in front of C1 for spec.md
// section 4.3's volume filter fallback. The average is stored in the shared
// Local cache under that cache's own TTL; avgVolumeCacheTTL is not applied.
type volumeSource struct {
	adapter market.Adapter
	local   *cache.Local
	candles Config
}

func newVolumeSource(adapter market.Adapter, local *cache.Local, cfg Config) *volumeSource {
	return &volumeSource{adapter: adapter, local: local, candles: cfg}
}

func (v *volumeSource) AverageVolume(ctx context.Context, instrument string) (float64, error) {
	key := "avgvol:" + instrument
	if val, ok := v.local.Get(key); ok {
		return val.(float64), nil
	}

	candles, err := v.adapter.Candles(ctx, instrument, signalInterval(v.candles.CandleInterval), v.candles.CandleCount)
	if err != nil {
		return 0, fmt.Errorf("fetch candles for average volume: %w", err)
	}
	if len(candles) == 0 {
		return 0, nil
	}

	var sum float64
	for _, c := range candles {
		sum += c.Volume
	}
	avg := sum / float64(len(candles))
	v.local.Set(key, avg)
	return avg, nil
}
