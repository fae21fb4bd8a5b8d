// Package channel implements a bounded, byte-oriented IPC channel over
// memory shared between unrelated processes. Variable-length messages
// move through a fixed-capacity ring without a kernel round trip per
// byte: the only syscalls on the data path are the futex waits and
// wakes of the two cross-process semaphores.
//
// A Channel is simplex. Two of them composed by CreatePair give a pair
// of processes a full-duplex pipe, each party holding one Sender and
// one Receiver. Payloads are opaque byte strings; SendValue and
// ReceiveValue run them through a swappable Codec (gob by default).
//
// The channel is not durable, performs no flow control beyond failing
// fast when full, and leaves final-owner disposal coordination to the
// caller.
package channel
