// Package wakeq provides a FIFO queue paired with a pollable wake descriptor.
//
// Every Send enqueues one item and writes exactly one byte to a connected
// socket pair; every Recv reads one byte and dequeues one item. The read end
// can sit in any poll set next to other descriptors, which a plain channel
// cannot.
package wakeq
