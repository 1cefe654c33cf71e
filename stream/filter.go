// Package stream implements the capability-polymorphic stream abstraction
// (component I) and its filter chain: Memory, File, Tcp, Udp, Tty and Pipe
// streams share one Read/Write/Unread/Close surface, and any stage of the
// chain (a TLS filter, a rate limiter) can intercept or pass through to the
// next. Grounded on original_source/src/api/src/api_stream_common.c
// (api_filter_on_*, api_stream_read_exact, api_stream_unread) and
// original_source/src/api/include/api.h's api_filter_t/api_stream_t.
package stream

// Filter is one stage of a stream's operation chain. A freshly attached
// Filter forwards every callback to next unless the caller overrides the
// corresponding field; this mirrors api_filter_attach installing
// api_filter_on_read et al. as the default vtable before the caller
// customizes whichever callbacks it actually wants to intercept.
type Filter struct {
	next, prev *Filter
	stream     *Stream

	OnRead         func(f *Filter, buf []byte) int
	OnWrite        func(f *Filter, buf []byte) int
	OnReadTimeout  func(f *Filter)
	OnWriteTimeout func(f *Filter)
	OnError        func(f *Filter, err error)
	OnPeerClosed   func(f *Filter)
	OnClosed       func(f *Filter)
	OnTerminate    func(f *Filter)

	// Data is scratch space for the filter's own state (e.g. a TLS
	// session, a rate.Limiter), left untouched by the chain itself.
	Data any
}

func newFilter() *Filter {
	f := &Filter{}
	f.OnRead = func(f *Filter, buf []byte) int { return f.next.OnRead(f.next, buf) }
	f.OnWrite = func(f *Filter, buf []byte) int { return f.next.OnWrite(f.next, buf) }
	f.OnReadTimeout = func(f *Filter) { f.next.OnReadTimeout(f.next) }
	f.OnWriteTimeout = func(f *Filter) { f.next.OnWriteTimeout(f.next) }
	f.OnError = func(f *Filter, err error) { f.next.OnError(f.next, err) }
	f.OnPeerClosed = func(f *Filter) { f.next.OnPeerClosed(f.next) }
	f.OnClosed = func(f *Filter) { f.next.OnClosed(f.next) }
	f.OnTerminate = func(f *Filter) { f.next.OnTerminate(f.next) }
	return f
}

// AttachFilter installs f at the head of stream's chain, in front of every
// previously attached filter (and ahead of the stream's own terminal I/O
// stage). Reads travel head-to-tail; a filter that wants to transform data
// calls through to f.next itself rather than invoking the default.
func (s *Stream) AttachFilter(f *Filter) {
	*f = *mergeDefaults(f)
	f.stream = s
	f.next = s.filterHead
	f.prev = nil
	s.filterHead.prev = f
	s.filterHead = f
}

func mergeDefaults(f *Filter) *Filter {
	d := newFilter()
	if f.OnRead != nil {
		d.OnRead = f.OnRead
	}
	if f.OnWrite != nil {
		d.OnWrite = f.OnWrite
	}
	if f.OnReadTimeout != nil {
		d.OnReadTimeout = f.OnReadTimeout
	}
	if f.OnWriteTimeout != nil {
		d.OnWriteTimeout = f.OnWriteTimeout
	}
	if f.OnError != nil {
		d.OnError = f.OnError
	}
	if f.OnPeerClosed != nil {
		d.OnPeerClosed = f.OnPeerClosed
	}
	if f.OnClosed != nil {
		d.OnClosed = f.OnClosed
	}
	if f.OnTerminate != nil {
		d.OnTerminate = f.OnTerminate
	}
	d.Data = f.Data
	return d
}

// DetachFilter removes f from stream's chain; the stream functions exactly
// as if f had never been attached.
func (s *Stream) DetachFilter(f *Filter) {
	if f.prev != nil {
		f.prev.next = f.next
	} else {
		s.filterHead = f.next
	}
	if f.next != nil {
		f.next.prev = f.prev
	}
	f.stream = nil
}
