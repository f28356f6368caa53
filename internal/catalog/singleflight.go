package catalog

import (
	"context"

	"golang.org/x/sync/singleflight"
)

var reportGroup singleflight.Group

// coalesce shares one in-flight computation between concurrent callers of the same key.
func coalesce(ctx context.Context, key string, fn func(context.Context) (interface{}, error)) (interface{}, error, bool) {
	resultChan := reportGroup.DoChan(key, func() (interface{}, error) {
		return fn(context.WithoutCancel(ctx))
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err(), false
	case res := <-resultChan:
		return res.Val, res.Err, res.Shared
	}
}
