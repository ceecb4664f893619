package batch

import (
	"context"

	"golang.org/x/sync/singleflight"
)

var summaryGroup singleflight.Group

// singleflightSummary collapses concurrent summary builds for the same
// item/location into one loader call.
func singleflightSummary(ctx context.Context, key string, fn func(context.Context) (any, error)) (any, error) {
	resultChan := summaryGroup.DoChan(key, func() (any, error) {
		return fn(ctx)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-resultChan:
		return res.Val, res.Err
	}
}
