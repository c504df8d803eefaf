package engine

import "github.com/julesgosnell/claij/fsm"

// unboundedChan is a many-producer/single-consumer queue with no capacity
// limit, backing one transition's channel. A plain Go channel would force a
// capacity choice (and block producers past it); the dispatcher must never
// block on a push, so sends are buffered internally by a forwarding
// goroutine instead.
type unboundedChan struct {
	in   chan fsm.Msg
	out  chan fsm.Msg
	done chan struct{}
}

func newUnboundedChan() *unboundedChan {
	c := &unboundedChan{
		in:   make(chan fsm.Msg),
		out:  make(chan fsm.Msg),
		done: make(chan struct{}),
	}
	go c.run()
	return c
}

func (c *unboundedChan) run() {
	defer close(c.out)
	var queue []fsm.Msg
	for {
		if len(queue) == 0 {
			select {
			case m := <-c.in:
				queue = append(queue, m)
			case <-c.done:
				return
			}
			continue
		}
		select {
		case m := <-c.in:
			queue = append(queue, m)
		case c.out <- queue[0]:
			queue = queue[1:]
		case <-c.done:
			return
		}
	}
}

// Send enqueues m. It never blocks on the consumer: the forwarding
// goroutine absorbs it into its internal queue.
func (c *unboundedChan) Send(m fsm.Msg) {
	select {
	case c.in <- m:
	case <-c.done:
	}
}

// Recv returns the channel consumers select on.
func (c *unboundedChan) Recv() <-chan fsm.Msg { return c.out }

// Close stops the forwarding goroutine; Recv's channel is closed once it
// observes this, causing blocked consumers to see ok == false.
func (c *unboundedChan) Close() {
	select {
	case <-c.done:
	default:
		close(c.done)
	}
}
