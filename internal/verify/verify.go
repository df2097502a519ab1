// Package verify decides whether a spoken line matches the authored script
// line it was meant to reproduce.
//
// A [Verifier] normalises both sides with [transcript.Normalize], scores them
// with [similarity.Score] and maps the score onto a [Category]:
//
//	score >  Perfect                               → perfect, approved
//	Passable <= score <= Perfect, and the score of
//	  the filler-stripped spoken text > FillerRescue → passable, approved (adjusted score)
//	otherwise                                      → failed, rejected (raw score)
//
// Verification is a total function: every pair of strings, empty ones
// included, produces a [Result]. Every call also records one calibration entry
// (score and timestamp, never the text) on the configured [CalibrationSink].
package verify

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/MrWong99/rehearse/internal/observe"
	"github.com/MrWong99/rehearse/internal/transcript"
	"github.com/MrWong99/rehearse/internal/transcript/similarity"
)

// Category is the verdict bucket of a verification.
type Category string

const (
	// Perfect means the spoken line matched almost exactly.
	Perfect Category = "perfect"
	// Passable means the line matched once disfluencies were discounted.
	Passable Category = "passable"
	// Failed means the line must be retried.
	Failed Category = "failed"
)

// Thresholds are the score boundaries used to categorise a verification.
type Thresholds struct {
	// Perfect is the exclusive lower bound for [Perfect].
	Perfect float64 `yaml:"perfect"`

	// Passable is the inclusive lower bound of the range in which the filler
	// rescue is attempted.
	Passable float64 `yaml:"passable"`

	// FillerRescue is the exclusive lower bound the filler-adjusted score must
	// exceed for the line to be accepted as [Passable].
	FillerRescue float64 `yaml:"filler_rescue"`
}

// DefaultThresholds is the single source of the category boundaries. The
// configuration defaults, the rehearsal session and the linecheck tool all
// read it from here.
var DefaultThresholds = Thresholds{
	Perfect:      0.95,
	Passable:     0.80,
	FillerRescue: 0.90,
}

// Validate reports threshold combinations that cannot categorise correctly.
func (t Thresholds) Validate() error {
	var errs []error
	bounds := []struct {
		name string
		v    float64
	}{
		{"perfect", t.Perfect},
		{"passable", t.Passable},
		{"filler_rescue", t.FillerRescue},
	}
	for _, b := range bounds {
		if math.IsNaN(b.v) || b.v < 0 || b.v > 1 {
			errs = append(errs, fmt.Errorf("%s threshold %v is outside [0, 1]", b.name, b.v))
		}
	}
	if t.Passable > t.Perfect {
		errs = append(errs, fmt.Errorf("passable threshold %v exceeds perfect threshold %v", t.Passable, t.Perfect))
	}
	return errors.Join(errs...)
}

// Result is the outcome of one verification.
type Result struct {
	// Approved is true for [Perfect] and [Passable].
	Approved bool

	// Score is in [0, 1]. For [Passable] it is the filler-adjusted score;
	// otherwise the raw similarity.
	Score float64

	Category Category

	// NormalizedSpoken and NormalizedExpected are the compared forms, kept for
	// diagnostics and for [Diff].
	NormalizedSpoken   string
	NormalizedExpected string
}

// CalibrationSink receives one record per verification. Implementations must
// be safe for concurrent use and must not block.
type CalibrationSink interface {
	RecordScore(ctx context.Context, score float64, at time.Time)
}

// Option is a functional option for configuring a [Verifier].
type Option func(*Verifier)

// WithThresholds overrides [DefaultThresholds].
func WithThresholds(t Thresholds) Option {
	return func(v *Verifier) {
		v.thresholds = t
	}
}

// WithCalibrationSink sets the sink that receives every score. Passing nil
// disables calibration records.
func WithCalibrationSink(s CalibrationSink) Option {
	return func(v *Verifier) {
		v.sink = s
	}
}

// WithMetrics records the verdict category on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(v *Verifier) {
		v.metrics = m
	}
}

// WithScorer replaces [similarity.Score].
func WithScorer(score func(a, b string) float64) Option {
	return func(v *Verifier) {
		v.score = score
	}
}

// WithClock replaces time.Now for calibration timestamps.
func WithClock(now func() time.Time) Option {
	return func(v *Verifier) {
		v.now = now
	}
}

// Verifier categorises spoken lines. It is read-only after construction and
// safe for concurrent use.
type Verifier struct {
	thresholds Thresholds
	sink       CalibrationSink
	metrics    *observe.Metrics
	score      func(a, b string) float64
	now        func() time.Time
}

// New returns a [Verifier] using [DefaultThresholds] and an
// [observe.CalibrationRecorder] without metrics, unless overridden by opts.
func New(opts ...Option) *Verifier {
	v := &Verifier{
		thresholds: DefaultThresholds,
		sink:       &observe.CalibrationRecorder{},
		score:      similarity.Score,
		now:        time.Now,
	}
	for _, o := range opts {
		o(v)
	}
	return v
}

// Thresholds returns the boundaries in use.
func (v *Verifier) Thresholds() Thresholds {
	return v.thresholds
}

// Verify compares spokenRaw against expectedRaw.
//
// Verify panics if the similarity score is NaN or outside [0, 1]. No input
// produces such a score from [similarity.Score].
func (v *Verifier) Verify(ctx context.Context, spokenRaw, expectedRaw string) Result {
	ctx, span := observe.StartSpan(ctx, "verify.Verify")
	defer span.End()

	res := v.categorise(transcript.Normalize(spokenRaw), transcript.Normalize(expectedRaw))

	span.SetAttributes(
		attribute.Float64("verify.score", res.Score),
		attribute.String("verify.category", string(res.Category)),
	)
	if v.sink != nil {
		v.sink.RecordScore(ctx, res.Score, v.now())
	}
	if v.metrics != nil {
		v.metrics.RecordVerification(ctx, string(res.Category))
	}
	return res
}

func (v *Verifier) categorise(spoken, expected string) Result {
	res := Result{
		NormalizedSpoken:   spoken,
		NormalizedExpected: expected,
	}

	score := mustScore(v.score(spoken, expected))
	if score > v.thresholds.Perfect {
		res.Approved, res.Score, res.Category = true, score, Perfect
		return res
	}

	if score >= v.thresholds.Passable {
		adjusted := mustScore(v.score(transcript.RemoveFillers(spoken), expected))
		if adjusted > v.thresholds.FillerRescue {
			res.Approved, res.Score, res.Category = true, adjusted, Passable
			return res
		}
	}

	res.Score, res.Category = score, Failed
	return res
}

func mustScore(s float64) float64 {
	if math.IsNaN(s) || s < 0 || s > 1 {
		panic(fmt.Sprintf("verify: similarity score %v outside [0, 1]", s))
	}
	return s
}

var defaultVerifier = New()

// Verify runs [Verifier.Verify] on a package-level verifier configured with
// [DefaultThresholds] that logs calibration records through slog.
func Verify(ctx context.Context, spokenRaw, expectedRaw string) Result {
	return defaultVerifier.Verify(ctx, spokenRaw, expectedRaw)
}
