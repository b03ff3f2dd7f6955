// Package process holds the plumbing shared by subprocess-backed receiver
// managers: a pseudo-terminal that captures the child's combined output
// without blocking, named pipes for status and media, and a Supervisor that
// launches the child and stops it with a bounded grace period.
//
// Output lines are kept for the life of one run so a fatal stop can dump
// them for diagnosis.
package process
