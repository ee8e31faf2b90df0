package controller

import (
	"math"
	"strconv"
	"strings"
)

// State is the live reading and enabled flag of a single controller.
//
// The JSON form keeps full float precision; it is what the file store writes.
// Use View for the two-decimal form sent to clients.
type State struct {
	Temperature float64 `json:"temperature"`
	Level       float64 `json:"level"`
	Enabled     bool    `json:"enabled"`
}

// View returns the client-facing rendering of s.
func (s State) View() View {
	return View{
		Temperature: Fixed2(s.Temperature),
		Level:       Fixed2(s.Level),
		Enabled:     s.Enabled,
	}
}

// View is State as served by list-all and the broadcast channel.
type View struct {
	Temperature Fixed2 `json:"temperature"`
	Level       Fixed2 `json:"level"`
	Enabled     bool   `json:"enabled"`
}

// Fixed2 is a float64 that marshals as a JSON number with exactly two
// decimal places, e.g. 42.5 -> 42.50.
//
// Rounding is half-up (away from zero) on the shortest decimal form of the
// value, so 0.125 renders as 0.13 and 1.005 as 1.01, even though neither is
// exactly representable in binary.
type Fixed2 float64

// MarshalJSON implements json.Marshaler.
func (f Fixed2) MarshalJSON() ([]byte, error) {
	return []byte(formatFixed2(float64(f))), nil
}

func formatFixed2(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return strconv.FormatFloat(v, 'f', 2, 64)
	}

	s := strconv.FormatFloat(v, 'f', -1, 64)
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	whole, frac, _ := strings.Cut(s, ".")
	if len(frac) <= 2 {
		return sign + whole + "." + frac + strings.Repeat("0", 2-len(frac))
	}

	digits := []byte(whole + frac[:2])
	if frac[2] >= '5' {
		digits = incrementDigits(digits)
	}
	n := len(digits)
	return sign + string(digits[:n-2]) + "." + string(digits[n-2:])
}

// incrementDigits adds one to a string of decimal digits.
func incrementDigits(d []byte) []byte {
	for i := len(d) - 1; i >= 0; i-- {
		if d[i] < '9' {
			d[i]++
			return d
		}
		d[i] = '0'
	}
	return append([]byte{'1'}, d...)
}

// Entry pairs a controller name with a copy of its state.
type Entry struct {
	Name  string
	State State
}

// Snapshot is a point-in-time copy of the whole registry.
//
// Entries are sorted by name. Version increases by one on every accepted
// mutation, so of two snapshots the one with the higher Version is newer.
type Snapshot struct {
	Version uint64
	Entries []Entry
}

// Len returns the number of controllers in the snapshot.
func (s Snapshot) Len() int {
	return len(s.Entries)
}

// States returns the snapshot as a name-keyed map.
func (s Snapshot) States() map[string]State {
	m := make(map[string]State, len(s.Entries))
	for _, e := range s.Entries {
		m[e.Name] = e.State
	}
	return m
}

// Views returns the snapshot as a name-keyed map of client-facing views.
// encoding/json writes map keys sorted, so the output is deterministic.
func (s Snapshot) Views() map[string]View {
	m := make(map[string]View, len(s.Entries))
	for _, e := range s.Entries {
		m[e.Name] = e.State.View()
	}
	return m
}

// Seed returns the initial registry contents: loaded when it has any
// entries, otherwise one enabled, zero-valued controller per default name.
// Blank default names are skipped.
func Seed(loaded map[string]State, defaults []string) map[string]State {
	if len(loaded) > 0 {
		return loaded
	}
	seeded := make(map[string]State, len(defaults))
	for _, name := range defaults {
		if strings.TrimSpace(name) == "" {
			continue
		}
		seeded[name] = State{Enabled: true}
	}
	return seeded
}
