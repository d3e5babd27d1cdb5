// Package safety screens uploaded files and URLs before ingestion.
//
// A [Scanner] reports a [Verdict]; a [Guard] applies the ingestion
// policy: reject when the verdict is not clean, proceed when the
// scanner is unreachable or slow. An inconclusive verdict is logged and
// published separately so it never reads as a genuine clean result.
package safety

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nugget/docent/internal/events"
)

// ErrRejected is matched by errors.Is for every [RejectedError].
var ErrRejected = errors.New("content rejected by safety scan")

// Verdict is the outcome of one scan.
type Verdict struct {
	Clean        bool   `json:"clean"`
	Positives    int    `json:"positives"`
	Total        int    `json:"total"`
	Inconclusive bool   `json:"inconclusive,omitempty"`
	Reason       string `json:"reason,omitempty"`
}

// Ratio renders the detection ratio, e.g. "3/70".
func (v Verdict) Ratio() string {
	return fmt.Sprintf("%d/%d", v.Positives, v.Total)
}

// Scanner inspects content.
type Scanner interface {
	ScanBytes(ctx context.Context, name string, data []byte) (Verdict, error)
	ScanURL(ctx context.Context, rawURL string) (Verdict, error)
}

// RejectedError carries the detection ratio of a rejected target.
type RejectedError struct {
	Target  string
	Verdict Verdict
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("%s flagged by %s scanners", e.Target, e.Verdict.Ratio())
}

// Is reports whether target is ErrRejected.
func (e *RejectedError) Is(target error) bool {
	return target == ErrRejected
}

// Disabled is the scanner used when no scanning service is configured.
// Everything passes without a lookup.
type Disabled struct{}

func (Disabled) ScanBytes(context.Context, string, []byte) (Verdict, error) {
	return Verdict{Clean: true, Reason: "scanning disabled"}, nil
}

func (Disabled) ScanURL(context.Context, string) (Verdict, error) {
	return Verdict{Clean: true, Reason: "scanning disabled"}, nil
}

// Guard applies the fail-open scanning policy.
type Guard struct {
	scanner Scanner
	timeout time.Duration
	bus     *events.Bus
	logger  *slog.Logger
}

// NewGuard wraps a scanner. A nil scanner behaves as [Disabled]; a
// non-positive timeout defaults to 15 seconds. bus may be nil.
func NewGuard(scanner Scanner, timeout time.Duration, bus *events.Bus, logger *slog.Logger) *Guard {
	if scanner == nil {
		scanner = Disabled{}
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{
		scanner: scanner,
		timeout: timeout,
		bus:     bus,
		logger:  logger.With("component", "safety"),
	}
}

// CheckBytes scans an uploaded file. It returns a *RejectedError when
// the scanner flags it and a nil error otherwise, including when the
// scan could not complete.
func (g *Guard) CheckBytes(ctx context.Context, name string, data []byte) (Verdict, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	v, err := g.scanner.ScanBytes(ctx, name, data)
	return g.decide(name, v, err)
}

// CheckURL scans a URL before it is fetched.
func (g *Guard) CheckURL(ctx context.Context, rawURL string) (Verdict, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	v, err := g.scanner.ScanURL(ctx, rawURL)
	return g.decide(rawURL, v, err)
}

func (g *Guard) decide(target string, v Verdict, err error) (Verdict, error) {
	if err != nil {
		v = Verdict{Clean: true, Inconclusive: true, Reason: err.Error()}
	}
	if v.Inconclusive {
		g.logger.Warn("safety scan inconclusive, proceeding", "target", target, "reason", v.Reason)
		g.bus.Emit(events.SourceSafety, events.KindScanInconclusive, map[string]any{
			"target": target,
			"reason": v.Reason,
		})
		v.Clean = true
		return v, nil
	}
	if !v.Clean {
		g.logger.Warn("safety scan rejected content", "target", target, "positives", v.Positives, "total", v.Total)
		g.bus.Emit(events.SourceSafety, events.KindScanRejected, map[string]any{
			"target":    target,
			"positives": v.Positives,
			"total":     v.Total,
		})
		return v, &RejectedError{Target: target, Verdict: v}
	}
	g.logger.Debug("safety scan clean", "target", target, "ratio", v.Ratio())
	return v, nil
}
