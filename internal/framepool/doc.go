/*
Package framepool provides the fixed-capacity ring of planar frame buffers
shared between a hardware source and the frame dispatcher.

The producer side (Dequeue, Queue, Cancel) is used by the hardware adapter
to fill buffers. The consumer side (AcquireNext, Release) is used by the
dispatcher, which drains every ready frame per delivery:

	for {
		f, ok := pool.AcquireNext()
		if !ok {
			break
		}
		forward(f)
		pool.Release(f)
	}

Exhaustion is not a drop: Dequeue returns ErrPoolExhausted and the source
reports the frame as lost. Each Frame handle carries the slot generation it
was acquired under, so a second Release of the same handle is rejected with
ErrDoubleRelease instead of corrupting the free count.
*/
package framepool
