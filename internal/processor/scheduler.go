package processor

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/adverant/nexus/tableprocess-worker/internal/spatial"
)

// PageWork is one page's fragments
type PageWork struct {
	Page      int
	Fragments []spatial.TextFragment
}

// PageOutcome is the result of analysing one page. Err is set when the page
// failed; other pages are unaffected.
type PageOutcome struct {
	Page   int
	Tables []TableCandidate
	Err    error
}

// PageFunc analyses a single page
type PageFunc func(ctx context.Context, work PageWork) ([]TableCandidate, error)

// PageScheduler runs page analyses. Outcomes are returned in work order.
type PageScheduler interface {
	Run(ctx context.Context, work []PageWork, fn PageFunc) []PageOutcome
}

// SequentialScheduler analyses pages one after another on the caller's goroutine
type SequentialScheduler struct{}

// Run implements PageScheduler
func (SequentialScheduler) Run(ctx context.Context, work []PageWork, fn PageFunc) []PageOutcome {
	outcomes := make([]PageOutcome, len(work))
	for i, w := range work {
		outcomes[i] = runPage(ctx, w, fn)
	}
	return outcomes
}

// PooledScheduler analyses pages on a bounded set of goroutines
type PooledScheduler struct {
	Workers int
}

// Run implements PageScheduler. It returns once every page has finished.
func (s PooledScheduler) Run(ctx context.Context, work []PageWork, fn PageFunc) []PageOutcome {
	outcomes := make([]PageOutcome, len(work))

	var g errgroup.Group
	if s.Workers > 0 {
		g.SetLimit(s.Workers)
	}
	for i, w := range work {
		i, w := i, w
		g.Go(func() error {
			// each goroutine writes only its own slot
			outcomes[i] = runPage(ctx, w, fn)
			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}

func runPage(ctx context.Context, w PageWork, fn PageFunc) PageOutcome {
	if err := ctx.Err(); err != nil {
		return PageOutcome{Page: w.Page, Err: err}
	}
	tables, err := fn(ctx, w)
	return PageOutcome{Page: w.Page, Tables: tables, Err: err}
}
