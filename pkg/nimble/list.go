package nimble

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/contactbook/internal/model"
)

// ListAllContacts fetches the first page to learn the page count, then the
// remaining pages with at most concurrency requests in flight. A page that
// fails after retries is logged and skipped. Only a failure on the first
// page is returned as an error.
func ListAllContacts(ctx context.Context, c Client, opts ListOptions, concurrency int) ([]model.RemoteContact, error) {
	if concurrency <= 0 {
		concurrency = 10
	}

	opts.Page = 1
	first, err := c.ListContacts(ctx, opts)
	if err != nil {
		return nil, eris.Wrap(err, "nimble: list first page")
	}

	pages := first.Meta.Pages
	out := append([]model.RemoteContact{}, first.Resources...)
	if pages <= 1 {
		return out, nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for page := 2; page <= pages; page++ {
		g.Go(func() error {
			pageOpts := opts
			pageOpts.Page = page
			resp, err := c.ListContacts(gctx, pageOpts)
			if err != nil {
				zap.L().Warn("nimble: page fetch failed",
					zap.Int("page", page),
					zap.Error(err),
				)
				return nil
			}
			mu.Lock()
			out = append(out, resp.Resources...)
			mu.Unlock()
			return nil
		})
	}

	_ = g.Wait()
	return out, nil
}
