// Package metrics records auth engine counters through OpenTelemetry.
package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Meter name used for every instrument
const ScopeName = "github.com/layer-3/tokenward"

// Outcome labels
const (
	OutcomeSuccess     = "success"
	OutcomeInvalid     = "invalid"
	OutcomeRevoked     = "revoked"
	OutcomeReplayed    = "replayed"
	OutcomeUnavailable = "unavailable"
	OutcomeDenied      = "denied"
)

// Recorder wraps the counters the engine and middleware increment
type Recorder struct {
	logins      metric.Int64Counter
	refreshes   metric.Int64Counter
	replays     metric.Int64Counter
	logouts     metric.Int64Counter
	revocations metric.Int64Counter
	rejections  metric.Int64Counter
	purged      metric.Int64Counter
}

// New creates the instruments on meter
func New(meter metric.Meter) (*Recorder, error) {
	r := &Recorder{}
	counters := []struct {
		dst  *metric.Int64Counter
		name string
		help string
	}{
		{&r.logins, "tokenward.logins", "Login attempts by outcome."},
		{&r.refreshes, "tokenward.refreshes", "Refresh attempts by outcome."},
		{&r.replays, "tokenward.replays_detected", "Superseded refresh tokens presented."},
		{&r.logouts, "tokenward.logouts", "Completed logouts."},
		{&r.revocations, "tokenward.sessions_revoked", "Sessions revoked outside of logout."},
		{&r.rejections, "tokenward.verify_rejections", "Access tokens rejected by the verifier, by reason."},
		{&r.purged, "tokenward.purged", "Expired records removed by the janitor, by store."},
	}
	for _, c := range counters {
		ins, err := meter.Int64Counter(c.name, metric.WithDescription(c.help))
		if err != nil {
			return nil, fmt.Errorf("create counter %s: %w", c.name, err)
		}
		*c.dst = ins
	}
	return r, nil
}

// Nop returns a Recorder that records nothing
func Nop() *Recorder {
	r, err := New(noop.NewMeterProvider().Meter(ScopeName))
	if err != nil {
		panic(err)
	}
	return r
}

func (r *Recorder) Login(ctx context.Context, outcome string) {
	r.logins.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (r *Recorder) Refresh(ctx context.Context, outcome string) {
	r.refreshes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (r *Recorder) ReplayDetected(ctx context.Context) {
	r.replays.Add(ctx, 1)
}

func (r *Recorder) Logout(ctx context.Context) {
	r.logouts.Add(ctx, 1)
}

func (r *Recorder) SessionsRevoked(ctx context.Context, n int) {
	if n > 0 {
		r.revocations.Add(ctx, int64(n))
	}
}

func (r *Recorder) VerifyRejected(ctx context.Context, reason string) {
	r.rejections.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (r *Recorder) Purged(ctx context.Context, store string, n int) {
	if n > 0 {
		r.purged.Add(ctx, int64(n), metric.WithAttributes(attribute.String("store", store)))
	}
}
