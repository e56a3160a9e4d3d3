package backend

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"sync"
)

// DecodeFunc turns one non-empty line of a streaming response into a
// fragment. done reports the backend's end-of-stream marker. An empty
// fragment with done=false skips the line.
type DecodeFunc func(line []byte) (frag string, done bool, err error)

// maxLineBytes bounds a single streamed line.
const maxLineBytes = 1 << 20

type lineItem struct {
	frag string
	err  error
}

// LineStream pulls fragments from a line-delimited response body.
//
// A single pump goroutine reads the body; Next waits for the next decoded
// item or for ctx, whichever comes first, so a silent backend never blocks a
// caller that has given up. Close cancels the request and closes the body,
// which unblocks and ends the pump.
type LineStream struct {
	body   io.ReadCloser
	cancel context.CancelFunc
	items  chan lineItem
	stop   chan struct{}
	once   sync.Once

	err error
}

// NewLineStream starts pumping body. cancel is called on Close and should
// cancel the request that produced body.
func NewLineStream(body io.ReadCloser, cancel context.CancelFunc, decode DecodeFunc) *LineStream {
	s := &LineStream{
		body:   body,
		cancel: cancel,
		items:  make(chan lineItem),
		stop:   make(chan struct{}),
	}
	go s.pump(decode)
	return s
}

func (s *LineStream) pump(decode DecodeFunc) {
	defer close(s.items)
	sc := bufio.NewScanner(s.body)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		frag, done, err := decode(line)
		if err != nil {
			s.emit(lineItem{err: err})
			return
		}
		if frag != "" && !s.emit(lineItem{frag: frag}) {
			return
		}
		if done {
			return
		}
	}
	if err := sc.Err(); err != nil {
		s.emit(lineItem{err: err})
	}
	// Body ended without an explicit done marker: treated as a normal end.
}

func (s *LineStream) emit(it lineItem) bool {
	select {
	case s.items <- it:
		return true
	case <-s.stop:
		return false
	}
}

// Next returns the next fragment, io.EOF at the end, or the first error.
func (s *LineStream) Next(ctx context.Context) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	select {
	case it, ok := <-s.items:
		if !ok {
			s.err = io.EOF
			return "", io.EOF
		}
		if it.err != nil {
			s.err = it.err
			return "", it.err
		}
		return it.frag, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Close stops the pump and releases the response.
func (s *LineStream) Close() error {
	var err error
	s.once.Do(func() {
		close(s.stop)
		if s.cancel != nil {
			s.cancel()
		}
		err = s.body.Close()
	})
	return err
}
