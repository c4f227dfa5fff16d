package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"

	"panicker/internal/signal"
)

// Repository provides data access methods over the signals/meta tables.
type Repository struct {
	db *DB
}

// NewRepository creates a new repository.
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// HealthCheck performs a database health check.
func (r *Repository) HealthCheck(ctx context.Context) error {
	return r.db.Pool.Ping(ctx)
}

// Save persists sig, idempotent by (instrument, detectedAt, finalLevel):
// duplicates within one second of an existing row with the same instrument
// and finalLevel collapse to the first insert.
func (r *Repository) Save(ctx context.Context, sig *signal.PanicSignal) error {
	var existing int64
	dupeQuery := `
		SELECT id FROM signals
		WHERE instrument = $1 AND final_level = $2
		  AND detected_at BETWEEN $3 AND $4
		LIMIT 1
	`
	windowStart := sig.DetectedAt.Add(-time.Second)
	windowEnd := sig.DetectedAt.Add(time.Second)
	err := r.db.Pool.QueryRow(ctx, dupeQuery, sig.Instrument, string(sig.FinalLevel), windowStart, windowEnd).Scan(&existing)
	if err == nil {
		sig.ID = existing
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("check duplicate signal: %w", err)
	}

	passedJSON, err := json.Marshal(sig.PassedFilters)
	if err != nil {
		return fmt.Errorf("marshal passed filters: %w", err)
	}
	failedJSON, err := json.Marshal(sig.FailedFilters)
	if err != nil {
		return fmt.Errorf("marshal failed filters: %w", err)
	}
	clustersJSON, err := json.Marshal(sig.VolumeClusters)
	if err != nil {
		return fmt.Errorf("marshal volume clusters: %w", err)
	}

	query := `
		INSERT INTO signals (
			instrument, detected_at, signal_type,
			rsi7, rsi14, rsi21, has_rsi7, has_rsi21,
			volume_ratio, current_volume, avg_volume,
			base_level, final_level, passed_filters, failed_filters,
			price, atr, sma20, spread_percent,
			volume_clusters, cluster_summary,
			risk_score, risk_level, risk_rsi_component, risk_volume_component, risk_volatility_component,
			risk_interpretation, interpretation, recommendation, risk_level_text
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
			$16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30
		)
		RETURNING id
	`
	return r.db.Pool.QueryRow(
		ctx, query,
		sig.Instrument, sig.DetectedAt, string(sig.SignalType),
		sig.RSI7, sig.RSI14, sig.RSI21, sig.HasRSI7, sig.HasRSI21,
		sig.VolumeRatio, sig.CurrentVolume, sig.AvgVolume,
		string(sig.BaseLevel), string(sig.FinalLevel), passedJSON, failedJSON,
		sig.Price, sig.ATR, sig.SMA20, sig.SpreadPercent,
		clustersJSON, sig.ClusterSummary,
		sig.Risk.Score, string(sig.Risk.Level), sig.Risk.RSIComponent, sig.Risk.VolumeComponent, sig.Risk.VolatilityComponent,
		sig.Risk.Interpretation, sig.Interpretation, sig.Recommendation, sig.RiskLevelText,
	).Scan(&sig.ID)
}

const selectColumns = `
	id, instrument, detected_at, signal_type,
	rsi7, rsi14, rsi21, has_rsi7, has_rsi21,
	volume_ratio, current_volume, avg_volume,
	base_level, final_level, passed_filters, failed_filters,
	price, atr, sma20, spread_percent,
	volume_clusters, cluster_summary,
	risk_score, risk_level, risk_rsi_component, risk_volume_component, risk_volatility_component,
	risk_interpretation, interpretation, recommendation, risk_level_text
`

func scanSignal(row interface {
	Scan(dest ...interface{}) error
}) (*signal.PanicSignal, error) {
	var s signal.PanicSignal
	var passedJSON, failedJSON, clustersJSON []byte
	var signalType, baseLevel, finalLevel, riskLevel string

	err := row.Scan(
		&s.ID, &s.Instrument, &s.DetectedAt, &signalType,
		&s.RSI7, &s.RSI14, &s.RSI21, &s.HasRSI7, &s.HasRSI21,
		&s.VolumeRatio, &s.CurrentVolume, &s.AvgVolume,
		&baseLevel, &finalLevel, &passedJSON, &failedJSON,
		&s.Price, &s.ATR, &s.SMA20, &s.SpreadPercent,
		&clustersJSON, &s.ClusterSummary,
		&s.Risk.Score, &riskLevel, &s.Risk.RSIComponent, &s.Risk.VolumeComponent, &s.Risk.VolatilityComponent,
		&s.Risk.Interpretation, &s.Interpretation, &s.Recommendation, &s.RiskLevelText,
	)
	if err != nil {
		return nil, err
	}

	s.SignalType = signal.Type(signalType)
	s.BaseLevel = signal.BaseLevel(baseLevel)
	s.FinalLevel = signal.FinalLevel(finalLevel)
	s.Risk.Level = signal.RiskLevel(riskLevel)

	if err := json.Unmarshal(passedJSON, &s.PassedFilters); err != nil {
		return nil, fmt.Errorf("unmarshal passed filters: %w", err)
	}
	if err := json.Unmarshal(failedJSON, &s.FailedFilters); err != nil {
		return nil, fmt.Errorf("unmarshal failed filters: %w", err)
	}
	if err := json.Unmarshal(clustersJSON, &s.VolumeClusters); err != nil {
		return nil, fmt.Errorf("unmarshal volume clusters: %w", err)
	}

	return &s, nil
}

func (r *Repository) querySignals(ctx context.Context, query string, args ...interface{}) ([]*signal.PanicSignal, error) {
	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*signal.PanicSignal
	for rows.Next() {
		s, err := scanSignal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// History returns an instrument's signal history, newest first.
func (r *Repository) History(ctx context.Context, instrument string, daysBack int, limit int) ([]*signal.PanicSignal, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM signals
		WHERE instrument = $1 AND detected_at >= $2
		ORDER BY detected_at DESC
		LIMIT $3
	`, selectColumns)
	since := time.Now().AddDate(0, 0, -daysBack)
	return r.querySignals(ctx, query, instrument, since, limit)
}

// TopSignals returns the top signals for period, ordered by
// (levelPriority desc, volumeRatio desc, riskScore desc).
func (r *Repository) TopSignals(ctx context.Context, period Period, limit int) ([]*signal.PanicSignal, error) {
	start, end := windowFor(period, time.Now())
	query := fmt.Sprintf(`
		SELECT %s FROM signals
		WHERE detected_at >= $1 AND detected_at < $2
		ORDER BY
			CASE final_level WHEN 'red' THEN 3 WHEN 'yellow' THEN 2 WHEN 'white' THEN 1 ELSE 0 END DESC,
			volume_ratio DESC,
			risk_score DESC
		LIMIT $3
	`, selectColumns)
	return r.querySignals(ctx, query, start, end, limit)
}

// PanicSignals returns typed objects for bulk consumers over the last `days`
// days, newest first.
func (r *Repository) PanicSignals(ctx context.Context, days int, limit int) ([]*signal.PanicSignal, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM signals
		WHERE detected_at >= $1
		ORDER BY detected_at DESC
		LIMIT $2
	`, selectColumns)
	since := time.Now().AddDate(0, 0, -days)
	return r.querySignals(ctx, query, since, limit)
}

// LastSignal returns the most recent signal for instrument, or nil if none
// exists. Supplements the distilled spec with the original's cheap
// get_last_signal(ticker) query (see SPEC_FULL.md section B.1). The overheat
// endpoint uses it for lastSignalAt/lastSignalLevel; the scan loop does not
// consult it.
func (r *Repository) LastSignal(ctx context.Context, instrument string) (*signal.PanicSignal, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM signals
		WHERE instrument = $1
		ORDER BY detected_at DESC
		LIMIT 1
	`, selectColumns)
	row := r.db.Pool.QueryRow(ctx, query, instrument)
	s, err := scanSignal(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return s, nil
}

// Stats computes counts by level, most-active/most-calm instruments and the
// categorical market tension over the last `days` days, per spec.md section
// 4.8.
func (r *Repository) Stats(ctx context.Context, days int) (*Stats, error) {
	since := time.Now().AddDate(0, 0, -days)

	rows, err := r.db.Pool.Query(ctx, `
		SELECT instrument, final_level, COUNT(*) FROM signals
		WHERE detected_at >= $1
		GROUP BY instrument, final_level
	`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byLevel := map[string]int{}
	byInstrument := map[string]int{}
	total := 0

	for rows.Next() {
		var instrument, level string
		var count int
		if err := rows.Scan(&instrument, &level, &count); err != nil {
			return nil, err
		}
		byLevel[level] += count
		byInstrument[instrument] += count
		total += count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	counts := make([]InstrumentCount, 0, len(byInstrument))
	for instrument, count := range byInstrument {
		counts = append(counts, InstrumentCount{Instrument: instrument, Count: count})
	}
	sort.Slice(counts, func(i, j int) bool {
		if counts[i].Count != counts[j].Count {
			return counts[i].Count > counts[j].Count
		}
		return counts[i].Instrument < counts[j].Instrument
	})

	mostActive := counts
	mostCalm := make([]InstrumentCount, len(counts))
	copy(mostCalm, counts)
	sort.Slice(mostCalm, func(i, j int) bool {
		if mostCalm[i].Count != mostCalm[j].Count {
			return mostCalm[i].Count < mostCalm[j].Count
		}
		return mostCalm[i].Instrument < mostCalm[j].Instrument
	})

	const topN = 5
	if len(mostActive) > topN {
		mostActive = mostActive[:topN]
	}
	if len(mostCalm) > topN {
		mostCalm = mostCalm[:topN]
	}

	tension := TensionCalm
	if total > 0 {
		strong := byLevel[string(signal.LevelRed)]
		moderate := byLevel[string(signal.LevelYellow)]
		if float64(strong)/float64(total) > 0.3 {
			tension = TensionHigh
		} else if float64(moderate)/float64(total) > 0.5 {
			tension = TensionModerate
		}
	}

	return &Stats{
		Totals:        total,
		ByLevel:       byLevel,
		MostActive:    mostActive,
		MostCalm:      mostCalm,
		MarketTension: tension,
	}, nil
}
