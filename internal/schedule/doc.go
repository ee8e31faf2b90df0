// Package schedule runs a task on a fixed interval.
//
// Recurring knows nothing about what the task does. It runs the task once
// immediately on Start and then on every tick until its context is cancelled
// or Stop is called. A run that returns an error or panics is logged and
// counted; the next tick runs as normal.
//
// Runs never overlap. If a run takes longer than the interval, the ticks that
// fell due meanwhile collapse into one.
package schedule
