// Package validity tracks whether user-editable values are currently usable.
//
// A Tracker is a leaf: it owns one boolean and a list of observers that fire
// when the boolean flips. A Group aggregates any number of Sources and is
// valid only while every child is valid, re-evaluating whenever a child
// reports a change. Groups are themselves Sources, so trees of arbitrary depth
// can be assembled.
//
// Trackers are not safe for concurrent use. They belong to whichever goroutine
// owns the value being validated; values crossing goroutines are copied and
// re-validated on the receiving side.
package validity
