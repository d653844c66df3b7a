// Package sample holds the values exchanged between the measurement engine,
// the pressure reader and the stream aligner.
package sample

import (
	"encoding/json"
	"math"
	"strconv"
)

// Optional is a float reading that may be absent. The zero value is absent.
type Optional struct {
	Value float64
	Valid bool
}

// Some returns a present reading. Non-finite values are treated as absent.
func Some(v float64) Optional {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Optional{}
	}
	return Optional{Value: v, Valid: true}
}

// Absent returns a missing reading.
func Absent() Optional { return Optional{} }

// Float returns the value, or NaN when absent.
func (o Optional) Float() float64 {
	if !o.Valid {
		return math.NaN()
	}
	return o.Value
}

// String formats the value for tabular output; absent is the empty string.
func (o Optional) String() string {
	if !o.Valid {
		return ""
	}
	return strconv.FormatFloat(o.Value, 'f', -1, 64)
}

// Format renders the value with a fixed precision, or "" when absent.
func (o Optional) Format(prec int) string {
	if !o.Valid {
		return ""
	}
	return strconv.FormatFloat(o.Value, 'f', prec, 64)
}

func (o Optional) MarshalJSON() ([]byte, error) {
	if !o.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(o.Value)
}

func (o *Optional) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*o = Optional{}
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*o = Some(v)
	return nil
}

// Parse converts a tabular cell into an Optional. Empty, "nan" and
// unparseable cells are absent.
func Parse(cell string) Optional {
	if cell == "" {
		return Optional{}
	}
	v, err := strconv.ParseFloat(cell, 64)
	if err != nil {
		return Optional{}
	}
	return Some(v)
}

// DiameterSample is the engine output for one processed frame.
type DiameterSample struct {
	FrameIndex int      `json:"frame_index"`
	Timestamp  float64  `json:"timestamp"` // seconds since run start
	Value      Optional `json:"diameter_px"`
}

// PressureSample is one reading from the pressure channel.
type PressureSample struct {
	Timestamp float64  `json:"timestamp"` // seconds since run start
	Value     Optional `json:"pressure"`
}

// AlignedRow is one output tick of the stream aligner.
type AlignedRow struct {
	Elapsed  float64  `json:"elapsed"`
	Pressure Optional `json:"pressure"`
	Diameter Optional `json:"diameter"`
}
