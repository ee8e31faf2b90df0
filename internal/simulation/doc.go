// Package simulation generates synthetic sensor readings for enabled
// controllers and fans the results out to broadcasters.
//
// The update rule (Next) and message building (Messages) are pure functions.
// Simulator glues them to the registry and is the Task that the scheduler
// runs once per tick.
package simulation
