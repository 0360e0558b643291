package audio

// Drain consumes ch until it closes, discarding everything. Used to empty
// the event stream of a session that has been replaced, so buffered frames
// do not linger behind a channel nobody reads.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
