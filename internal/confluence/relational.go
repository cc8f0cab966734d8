package confluence

import (
	"math"
	"time"

	"github.com/rs/zerolog"

	"vpa-trading-engine/internal/market"
)

// RelationalScorer reads cross-pair price action: when a pair is strongly
// correlated with a reference that has already moved, the laggard inherits a
// directional bias in the reference's direction. All reads go through the
// shared candle history, which hands out immutable copies, so scoring never
// races with the per-pair writers.
type RelationalScorer struct {
	history   *market.History
	refs      []string
	timeframe market.Timeframe
	lookback  int
	recent    int     // bars over which "already moved" is measured
	weakCorr  float64 // below this correlation the dimension is silent
	moveScale float64 // reference lag (fractional move) mapping to full score
	logger    zerolog.Logger
}

// NewRelationalScorer scores symbols against the given reference pairs
func NewRelationalScorer(history *market.History, refs []string, tf market.Timeframe, lookback int, logger zerolog.Logger) *RelationalScorer {
	if lookback <= 0 {
		lookback = 50
	}
	return &RelationalScorer{
		history:   history,
		refs:      refs,
		timeframe: tf,
		lookback:  lookback,
		recent:    5,
		weakCorr:  0.3,
		moveScale: 0.01,
		logger:    logger.With().Str("component", "RelationalScorer").Logger(),
	}
}

// Score computes the relational dimension for symbol. The most correlated
// reference pair drives the score; with no usable reference the score is zero.
func (r *RelationalScorer) Score(symbol string, now time.Time) DimensionScore {
	score := DimensionScore{
		Dimension: Relational,
		Symbol:    symbol,
		Timestamp: now,
	}

	target := r.history.Closes(symbol, r.timeframe, r.lookback)
	if len(target) < r.recent+2 {
		return score
	}

	var bestCorr float64
	var bestRef string
	var bestLag float64
	for _, ref := range r.refs {
		if ref == symbol {
			continue
		}
		refCloses := r.history.Closes(ref, r.timeframe, r.lookback)
		n := len(target)
		if len(refCloses) < n {
			n = len(refCloses)
		}
		if n < r.recent+2 {
			continue
		}

		corr := returnCorrelation(target[len(target)-n:], refCloses[len(refCloses)-n:])
		if math.Abs(corr) <= math.Abs(bestCorr) {
			continue
		}
		bestCorr = corr
		bestRef = ref
		bestLag = recentReturn(refCloses, r.recent) - recentReturn(target, r.recent)
	}

	if math.Abs(bestCorr) < r.weakCorr {
		return score
	}

	score.Score = clamp(bestCorr*(bestLag/r.moveScale), -1, 1)
	r.logger.Debug().
		Str("symbol", symbol).
		Str("reference", bestRef).
		Float64("correlation", bestCorr).
		Float64("lag", bestLag).
		Float64("score", score.Score).
		Msg("Relational score computed")
	return score
}

// returnCorrelation computes the Pearson correlation of bar-to-bar returns
func returnCorrelation(a, b []float64) float64 {
	ra := toReturns(a)
	rb := toReturns(b)
	n := len(ra)
	if n == 0 || n != len(rb) {
		return 0
	}

	var meanA, meanB float64
	for i := 0; i < n; i++ {
		meanA += ra[i]
		meanB += rb[i]
	}
	meanA /= float64(n)
	meanB /= float64(n)

	var cov, varA, varB float64
	for i := 0; i < n; i++ {
		da := ra[i] - meanA
		db := rb[i] - meanB
		cov += da * db
		varA += da * da
		varB += db * db
	}
	if varA == 0 || varB == 0 {
		return 0
	}
	return cov / math.Sqrt(varA*varB)
}

func toReturns(closes []float64) []float64 {
	if len(closes) < 2 {
		return nil
	}
	returns := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] == 0 {
			returns = append(returns, 0)
			continue
		}
		returns = append(returns, closes[i]/closes[i-1]-1)
	}
	return returns
}

// recentReturn is the fractional move over the last n bars
func recentReturn(closes []float64, n int) float64 {
	if len(closes) < n+1 {
		return 0
	}
	prev := closes[len(closes)-1-n]
	if prev == 0 {
		return 0
	}
	return closes[len(closes)-1]/prev - 1
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
