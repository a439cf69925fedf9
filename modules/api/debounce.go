package api

import (
	"context"
	"net/http"
	"time"

	"github.com/bakehouse/backoffice/common"
)

// DebouncedGet coalesces GETs issued within a window into one request made
// with the arguments of the last call. Every coalesced caller receives the
// body of that request.
type DebouncedGet struct {
	client    *client
	debouncer *common.Debouncer[[]byte]
}

// NewDebouncedGet returns a debounced GET with the given window.
func (c *client) NewDebouncedGet(wait time.Duration) *DebouncedGet {
	return &DebouncedGet{
		client:    c,
		debouncer: common.NewDebouncer[[]byte](wait),
	}
}

// Get schedules the request for the trailing edge of the window and decodes
// the shared response into out.
func (d *DebouncedGet) Get(ctx context.Context, endpoint string, out interface{}, opts *RequestOptions) error {
	// the request may outlive the caller that scheduled it
	reqCtx := context.WithoutCancel(ctx)
	data, err := d.debouncer.Call(ctx, func() ([]byte, error) {
		return d.client.GetBytes(reqCtx, endpoint, opts)
	})
	if err != nil {
		return err
	}
	return d.client.decode(http.MethodGet, endpoint, data, out)
}

// Cancel drops the pending request; waiting callers get common.ErrDebounceCanceled.
func (d *DebouncedGet) Cancel() {
	d.debouncer.Cancel()
}

// Flush sends the pending request immediately.
func (d *DebouncedGet) Flush() {
	d.debouncer.Flush()
}

func (d *DebouncedGet) Pending() bool {
	return d.debouncer.Pending()
}
