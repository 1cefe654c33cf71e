package stream

import (
	"context"

	"golang.org/x/time/rate"
)

// NewRateLimitFilter builds a Filter that throttles on_read/on_write to
// limiter's configured rate: writes wait before forwarding to the next
// stage, reads wait for the bytes the next stage returned, the same
// way a TLS filter wraps the transport without the stream's own read/write
// callers needing to know it's there. Not part of the original: the
// source's filter chain is extensible by construction, and the pack
// carries golang.org/x/time/rate, so this gives it a concrete home.
func NewRateLimitFilter(limiter *rate.Limiter) *Filter {
	f := newFilter()
	f.OnRead = func(f *Filter, buf []byte) int {
		n := f.next.OnRead(f.next, buf)
		if n > 0 {
			_ = limiter.WaitN(context.Background(), n)
		}
		return n
	}
	f.OnWrite = func(f *Filter, buf []byte) int {
		if err := limiter.WaitN(context.Background(), len(buf)); err != nil {
			return 0
		}
		return f.next.OnWrite(f.next, buf)
	}
	return f
}
