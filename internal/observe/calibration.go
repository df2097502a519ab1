package observe

import (
	"context"
	"log/slog"
	"time"
)

// CalibrationRecorder is the calibration sink for verification scores. Each
// record carries only the numeric score and its timestamp: it is written to
// the structured log under the message "verification score" and observed on
// [Metrics.VerificationScore].
//
// A zero CalibrationRecorder logs to [slog.Default] and skips the histogram.
// CalibrationRecorder is safe for concurrent use.
type CalibrationRecorder struct {
	// Metrics receives the histogram observation. May be nil.
	Metrics *Metrics

	// Logger overrides [slog.Default].
	Logger *slog.Logger
}

// NewCalibrationRecorder returns a recorder that observes scores on m.
func NewCalibrationRecorder(m *Metrics) *CalibrationRecorder {
	return &CalibrationRecorder{Metrics: m}
}

// RecordScore appends one calibration record. The log record is written
// without ctx so a [TraceHandler] cannot add trace attributes to it.
func (c *CalibrationRecorder) RecordScore(ctx context.Context, score float64, at time.Time) {
	l := c.Logger
	if l == nil {
		l = slog.Default()
	}
	l.LogAttrs(context.Background(), slog.LevelInfo, "verification score",
		slog.Float64("score", score),
		slog.Time("timestamp", at),
	)
	if c.Metrics != nil {
		c.Metrics.VerificationScore.Record(ctx, score)
	}
}
