package antiblock

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pricewatch/pricewatch/internal/fetch"
	"github.com/pricewatch/pricewatch/internal/pacing"
)

// blockMarkers are the denial-page signatures Ozon serves to suspected
// bots: human-readable phrases plus the access-restricted widget marker.
var blockMarkers = []string{
	"Доступ ограничен",
	"Access denied",
	"accessRestricted",
}

// Classification is the result of inspecting a document for block
// signatures.
type Classification struct {
	Blocked bool
	Reason  string
}

// Classify inspects document content for block signatures. It never
// errors; an empty document simply classifies as blocked.
func Classify(html string) Classification {
	if strings.TrimSpace(html) == "" {
		return Classification{Blocked: true, Reason: "empty document"}
	}
	for _, marker := range blockMarkers {
		if strings.Contains(html, marker) {
			return Classification{Blocked: true, Reason: fmt.Sprintf("block marker %q", marker)}
		}
	}
	return Classification{}
}

// ChallengeContext describes the blocked page handed to a solver.
type ChallengeContext struct {
	URL  string
	HTML string
}

// ChallengeSolver is an optional collaborator that can produce a solution
// token for an anti-bot challenge. Absence is a normal code path, not an
// error condition.
type ChallengeSolver interface {
	Solve(ctx context.Context, challenge ChallengeContext) (string, error)
}

// Refetch re-acquires the document for the current target during the
// recovery loop.
type Refetch func(ctx context.Context) (*fetch.RawDocument, error)

// Nudge performs a passive humanizing action (a scroll) between re-checks.
type Nudge func(ctx context.Context) error

// Handler drives the bounded wait/re-check/optionally-solve loop around a
// blocked document. It never returns an error; callers must check the
// returned classification.
type Handler struct {
	maxAttempts int
	waitMin     time.Duration
	waitMax     time.Duration
	solver      ChallengeSolver
	pacer       *pacing.Controller
	logger      *slog.Logger
}

type Options struct {
	MaxAttempts int
	WaitMin     time.Duration
	WaitMax     time.Duration
	Solver      ChallengeSolver
}

func NewHandler(opts Options, logger *slog.Logger) *Handler {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 6
	}
	if opts.WaitMin <= 0 {
		opts.WaitMin = 15 * time.Second
	}
	if opts.WaitMax < opts.WaitMin {
		opts.WaitMax = 30 * time.Second
	}

	return &Handler{
		maxAttempts: opts.MaxAttempts,
		waitMin:     opts.WaitMin,
		waitMax:     opts.WaitMax,
		solver:      opts.Solver,
		pacer:       pacing.New(logger),
		logger:      logger.With("component", "antiblock"),
	}
}

// Handle classifies doc and, when blocked, runs the recovery loop: up to
// maxAttempts rounds of randomized wait, passive nudge, refetch and
// re-classify. If the loop exhausts and a solver is configured, it is
// consulted once; a returned token triggers one reload and the block is
// treated as cleared without re-verifying the content. The possibly
// refreshed document is returned alongside the final classification.
func (h *Handler) Handle(ctx context.Context, url string, doc *fetch.RawDocument, refetch Refetch, nudge Nudge) (*fetch.RawDocument, Classification) {
	cls := Classify(doc.HTML)
	if !cls.Blocked {
		return doc, cls
	}

	h.logger.Warn("block detected", "url", url, "reason", cls.Reason)

	for attempt := 1; attempt <= h.maxAttempts; attempt++ {
		if err := h.pacer.Wait(ctx, h.waitMin, h.waitMax); err != nil {
			return doc, Classification{Blocked: true, Reason: "cancelled during recovery wait"}
		}

		if nudge != nil {
			nudge(ctx)
		}

		fresh, err := refetch(ctx)
		if err != nil {
			h.logger.Warn("recovery refetch failed", "attempt", attempt, "error", err)
			continue
		}
		doc = fresh

		cls = Classify(doc.HTML)
		if !cls.Blocked {
			h.logger.Info("block cleared", "url", url, "attempts", attempt)
			return doc, cls
		}
	}

	if h.solver != nil {
		token, err := h.solver.Solve(ctx, ChallengeContext{URL: url, HTML: doc.HTML})
		if err != nil {
			h.logger.Warn("challenge solver failed", "url", url, "error", err)
		} else if token != "" {
			h.logger.Info("challenge token obtained, reloading", "url", url)
			if fresh, err := refetch(ctx); err == nil {
				doc = fresh
			}
			// The solved page is trusted as-is; content is not re-verified.
			return doc, Classification{}
		}
	}

	return doc, Classification{
		Blocked: true,
		Reason:  fmt.Sprintf("block persisted after %d recovery attempts", h.maxAttempts),
	}
}
