// Package runner runs one source manager on a dedicated worker goroutine
// and gives the caller a non-blocking, descriptor-driven facade.
//
// Commands travel to the worker and events travel back through wake
// queues, so both sides can fold the other into their own poll loop. Only
// copies cross the boundary: the caller keeps its own Status whose
// observers survive a rebuild onto a different source kind.
package runner
