// Package session runs one stream: a capture goroutine that reads, processes
// and publishes frames into a single-slot mailbox, and any number of
// independently paced generators that read from that slot.
//
// The capture goroutine is the only writer of the slot and the only owner of
// the processor. Publishing is a pointer swap, so readers never take a lock
// and never see a partially written frame. Neither side waits for the other:
// a slow consumer only skips frames, and a stalled source only means the last
// frame keeps being served until the session ends.
package session
