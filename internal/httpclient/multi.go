package httpclient

import (
	"context"

	"golang.org/x/sync/errgroup"

	"restbridge/internal/template"
)

// Job is one request in a multiplexed batch. ID is echoed in the Result.
type Job struct {
	ID      int
	Request template.Request
}

// Result is the outcome of one Job.
type Result struct {
	ID       int
	Response *Response
	Err      error
}

// Multi runs every job concurrently, at most MaxParallel at a time, and
// delivers results in completion order. The channel is closed after the last
// result.
func (c *Client) Multi(ctx context.Context, jobs []Job) <-chan Result {
	out := make(chan Result, len(jobs))
	go func() {
		defer close(out)
		var g errgroup.Group
		g.SetLimit(c.maxParallel)
		for _, job := range jobs {
			g.Go(func() error {
				resp, err := c.Perform(ctx, job.Request)
				out <- Result{ID: job.ID, Response: resp, Err: err}
				return nil
			})
		}
		_ = g.Wait()
	}()
	return out
}
