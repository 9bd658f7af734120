package protocol

import (
	"fmt"
	"math"
)

// Vector2 is a world-space position.
type Vector2 struct {
	X float32 `json:"x" yaml:"x"`
	Y float32 `json:"y" yaml:"y"`
}

// Add returns v + o.
func (v Vector2) Add(o Vector2) Vector2 {
	return Vector2{X: v.X + o.X, Y: v.Y + o.Y}
}

func (v Vector2) String() string {
	return fmt.Sprintf("(%.3f, %.3f)", v.X, v.Y)
}

// Approximately reports whether a and b differ by at most tol on each axis.
func Approximately(a, b Vector2, tol float32) bool {
	return abs32(a.X-b.X) <= tol && abs32(a.Y-b.Y) <= tol
}

func abs32(f float32) float32 {
	return float32(math.Abs(float64(f)))
}

// Positions travel as two uint16 each quantised over this range.
const (
	vectorMin   = -50.0
	vectorMax   = 50.0
	vectorRange = vectorMax - vectorMin
)

func quantize(f float32) uint16 {
	t := (float64(f) - vectorMin) / vectorRange
	if math.IsNaN(t) {
		// NaN maps to the origin.
		t = 0.5
	} else if t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}
	return uint16(t * math.MaxUint16)
}

func dequantize(q uint16) float32 {
	t := float64(q) / math.MaxUint16
	return float32(vectorMin + vectorRange*t)
}
