package scenario

import (
	"encoding/json"
	"math"
)

// RoundPercent rounds a model-reported number into 0..100. The value is
// bounded before conversion so huge or non-finite inputs cannot overflow.
func RoundPercent(f float64) int {
	switch {
	case math.IsNaN(f):
		return 0
	case f <= 0:
		return 0
	case f >= 100:
		return 100
	}
	return int(math.Round(f))
}

// percentMap decodes string-keyed gauges that may arrive as 60 or 60.0.
func percentMap(raw map[string]float64) map[string]int {
	if raw == nil {
		return nil
	}
	out := make(map[string]int, len(raw))
	for k, v := range raw {
		out[k] = RoundPercent(v)
	}
	return out
}

// PercentMap is a map of 0..100 values that accepts fractional JSON numbers.
type PercentMap map[string]int

func (m *PercentMap) UnmarshalJSON(data []byte) error {
	var raw map[string]float64
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*m = percentMap(raw)
	return nil
}

// UnmarshalJSON accepts gauges written as integers or fractions and rounds
// them into 0..100.
func (r *Resources) UnmarshalJSON(data []byte) error {
	var wire struct {
		Military   *float64 `json:"military"`
		Economic   *float64 `json:"economic"`
		Diplomatic *float64 `json:"diplomatic"`
		Popular    *float64 `json:"popular"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	gauge := func(f *float64) *int {
		if f == nil {
			return nil
		}
		v := RoundPercent(*f)
		return &v
	}
	*r = Resources{
		Military:   gauge(wire.Military),
		Economic:   gauge(wire.Economic),
		Diplomatic: gauge(wire.Diplomatic),
		Popular:    gauge(wire.Popular),
	}
	return nil
}
