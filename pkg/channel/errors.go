package channel

import "errors"

var (
	// ErrBufferFull is returned by a send when the framed message does
	// not fit in the current free space. The caller decides whether to
	// retry or treat it as backpressure; the channel never retries.
	ErrBufferFull = errors.New("channel: buffer full")

	// ErrWouldBlock is returned by a non-blocking receive when no
	// message is available. The ring is left untouched.
	ErrWouldBlock = errors.New("channel: no message available")

	// ErrChannelExists is returned when creating a channel under a name
	// this process has already registered.
	ErrChannelExists = errors.New("channel: name already in use")

	// ErrDisposed is returned for operations on a disposed channel
	// detected within the same process. Cross-process use after dispose
	// is undefined, as coordination of the final owner is external.
	ErrDisposed = errors.New("channel: disposed")
)
