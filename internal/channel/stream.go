package channel

import "sync"

// Stream is a single-producer/single-consumer, unbounded, order-preserving
// queue of canonical messages. The producer never blocks: Publish buffers
// in memory until the consumer drains. Close ends the stream for good;
// after that every Publish reports false so the producer knows to shut
// down instead of retrying.
type Stream struct {
	in  chan Message
	out chan Message

	closeOnce sync.Once
	closed    chan struct{}
}

// NewStream creates a stream and starts its pump goroutine.
func NewStream() *Stream {
	s := &Stream{
		in:     make(chan Message),
		out:    make(chan Message),
		closed: make(chan struct{}),
	}
	go s.pump()
	return s
}

// Publish enqueues a message for the consumer. It never blocks on a slow
// consumer. Returns false once the stream is closed.
func (s *Stream) Publish(msg Message) bool {
	select {
	case <-s.closed:
		return false
	case s.in <- msg:
		return true
	}
}

// Messages returns the consumer side of the stream. The channel is
// closed when Close is called.
func (s *Stream) Messages() <-chan Message {
	return s.out
}

// Closed returns a channel that is closed when the consumer has gone
// away. Producers select on it to stop retry-free.
func (s *Stream) Closed() <-chan struct{} {
	return s.closed
}

// Close ends the stream. Safe to call more than once and from any
// goroutine; the consumer's Messages channel is closed and buffered
// messages are dropped.
func (s *Stream) Close() {
	s.closeOnce.Do(func() { close(s.closed) })
}

// pump shuttles messages from Publish to the consumer, buffering
// whatever the consumer has not yet drained. Receipt order is preserved.
func (s *Stream) pump() {
	defer close(s.out)

	var buf []Message
	for {
		var outCh chan Message
		var next Message
		if len(buf) > 0 {
			outCh = s.out
			next = buf[0]
		}

		select {
		case msg := <-s.in:
			buf = append(buf, msg)
		case outCh <- next:
			buf = buf[1:]
		case <-s.closed:
			return
		}
	}
}
