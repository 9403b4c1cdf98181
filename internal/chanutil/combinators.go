// Package chanutil provides a small set of generic channel combinators for
// composing cancellation and value streams. Within this module the
// in-memory message bus uses OrDone; Or and Bridge have no caller here.
package chanutil

import "context"

// Or merges done-style channels into one that closes as soon as any input
// closes, e.g. to combine a caller's cancellation with an internal
// shutdown signal.
func Or(channels ...<-chan struct{}) <-chan struct{} {
	switch len(channels) {
	case 0:
		return nil
	case 1:
		return channels[0]
	}

	orDone := make(chan struct{})
	go func() {
		defer close(orDone)

		switch len(channels) {
		case 2:
			select {
			case <-channels[0]:
			case <-channels[1]:
			}
		default:
			select {
			case <-channels[0]:
			case <-channels[1]:
			case <-channels[2]:
			case <-Or(append(channels[3:], orDone)...):
			}
		}
	}()

	return orDone
}

// OrDone relays values from c until ctx is cancelled or c closes.
func OrDone[T any](ctx context.Context, c <-chan T) <-chan T {
	valStream := make(chan T)
	go func() {
		defer close(valStream)
		for {
			select {
			case <-ctx.Done():
				return
			case v, ok := <-c:
				if !ok {
					return
				}
				select {
				case valStream <- v:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return valStream
}

// Bridge multiplexes a stream of channels onto a single output channel,
// draining each inner channel in turn and respecting ctx cancellation.
func Bridge[T any](ctx context.Context, chanStream <-chan (<-chan T)) <-chan T {
	valStream := make(chan T)
	go func() {
		defer close(valStream)
		for {
			var stream <-chan T
			select {
			case maybeStream, ok := <-chanStream:
				if !ok {
					return
				}
				stream = maybeStream
			case <-ctx.Done():
				return
			}
			for val := range OrDone(ctx, stream) {
				select {
				case valStream <- val:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return valStream
}
