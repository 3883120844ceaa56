// Package latestonlychannel relays values from an input channel to an
// output channel without ever queuing a backlog: a slow reader of the
// output channel only ever sees the most recently sent value, never a
// stale one it hasn't caught up to yet.
package latestonlychannel

// Wrap returns a channel that always carries the most recent value
// sent on inputCh. If the consumer of the returned channel is slower
// than the producer writing to inputCh, intermediate values are
// discarded rather than queued. Closing inputCh closes the returned
// channel and releases the relay goroutine.
func Wrap[T any](inputCh <-chan T) <-chan T {
	outputCh := make(chan T)

	go func() {
	mainLoop:
		for {
			latest, ok := <-inputCh
			if !ok {
				break mainLoop
			}

		sendLoop:
			for {
				select {
				case outputCh <- latest:
					break sendLoop
				case updated, ok := <-inputCh:
					if !ok {
						break mainLoop
					}
					latest = updated
				}
			}
		}

		close(outputCh)
	}()

	return outputCh
}
