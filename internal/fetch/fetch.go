package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pricewatch/pricewatch/internal/config"
	"github.com/pricewatch/pricewatch/internal/models"
)

// RawDocument is what a fetcher returns for one target URL: the final page
// HTML plus any structured payloads captured while the page loaded.
type RawDocument struct {
	HTML     string
	Payloads [][]byte
}

// Fetcher retrieves documents for target URLs. The run coordinator holds
// exactly one fetcher per run; Release frees any per-target resource (a
// browser page) and must be called between targets, Close tears the
// fetcher down at the end of the run.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*RawDocument, error)
	Release(ctx context.Context) error
	Close() error
}

// Scroller is implemented by fetchers that can nudge the live page, used by
// the anti-block handler to look human between re-checks.
type Scroller interface {
	Scroll(ctx context.Context) error
}

// Reloader is implemented by fetchers that can reload the current page in
// place, used after a challenge token is obtained.
type Reloader interface {
	Reload(ctx context.Context) (*RawDocument, error)
}

// ErrorKind classifies a fetch failure.
type ErrorKind string

const (
	KindTimeout ErrorKind = "timeout"
	KindNetwork ErrorKind = "network"
	KindBlocked ErrorKind = "blocked"
)

// Error is the failure type returned by fetchers.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("fetch failed: %s", e.Kind)
	}
	return fmt.Sprintf("fetch failed (%s): %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Code maps a fetch error onto the per-target error code recorded on a
// price point.
func Code(err error) string {
	var fe *Error
	if errors.As(err, &fe) {
		switch fe.Kind {
		case KindTimeout:
			return models.ErrCodeTimeout
		case KindBlocked:
			return models.ErrCodeAccessBlocked
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return models.ErrCodeTimeout
	}
	return models.ErrCodeFetchError
}

// New builds a fetcher for the configured strategy. Construction failures
// here (playwright not installed, missing API key) are run-level
// infrastructure errors, not per-target ones.
func New(cfg config.FetchConfig, region *models.RegionProfile, logger *slog.Logger) (Fetcher, error) {
	switch cfg.Strategy {
	case config.FetchStrategyZenRows:
		return NewZenRowsFetcher(cfg, logger)
	case config.FetchStrategySession:
		return NewSessionFetcher(cfg, region, logger)
	default:
		return nil, fmt.Errorf("unknown fetch strategy %q", cfg.Strategy)
	}
}
