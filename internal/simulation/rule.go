package simulation

import "github.com/nerrad567/scada-hub/internal/controller"

// Simulated value ranges. Temperature is in degrees, level in percent.
const (
	TemperatureBase = 20.0
	TemperatureSpan = 10.0
	LevelSpan       = 100.0
)

// Source yields uniformly distributed floats in [0, 1).
// *rand.Rand from math/rand/v2 satisfies it.
type Source interface {
	Float64() float64
}

// Next returns the state of a controller after one tick.
//
// Enabled controllers get temperature in [20, 30) and level in [0, 100).
// Disabled controllers are returned unchanged.
func Next(s controller.State, src Source) controller.State {
	if !s.Enabled {
		return s
	}
	s.Temperature = TemperatureBase + src.Float64()*TemperatureSpan
	s.Level = src.Float64() * LevelSpan
	return s
}

// Message is the per-controller payload pushed on every tick.
type Message struct {
	Controller  string            `json:"controller"`
	Temperature controller.Fixed2 `json:"temperature"`
	Level       controller.Fixed2 `json:"level"`
	Enabled     bool              `json:"enabled"`
}

// Messages returns one Message per controller in snapshot order.
func Messages(snap controller.Snapshot) []Message {
	msgs := make([]Message, len(snap.Entries))
	for i, e := range snap.Entries {
		v := e.State.View()
		msgs[i] = Message{
			Controller:  e.Name,
			Temperature: v.Temperature,
			Level:       v.Level,
			Enabled:     v.Enabled,
		}
	}
	return msgs
}
