package scan

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/crafting-demo/claude-pr-review/pkg/types"
)

// fakeDispatcher records every request and can fail selected calls.
type fakeDispatcher struct {
	requests []*types.DispatchRequest
	errs     map[int]error // index of call -> error
}

func (d *fakeDispatcher) Dispatch(_ context.Context, req *types.DispatchRequest) error {
	idx := len(d.requests)
	d.requests = append(d.requests, req)
	if d.errs != nil {
		if err, ok := d.errs[idx]; ok {
			return err
		}
	}
	return nil
}

func testLogger(t *testing.T) *zap.Logger {
	t.Helper()
	return zap.NewNop()
}
