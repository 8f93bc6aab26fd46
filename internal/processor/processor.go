// Package processor holds the numeric transforms applied to task payloads.
//
// Every operation is pure, deterministic and length preserving, and maps
// finite inputs to finite outputs so results can always be encoded as JSON.
package processor

import "math"

// DefaultOperation is used when a task names no operation or an unknown one.
const DefaultOperation = "math_formula"

// Processor maps a task's data to its result.
type Processor interface {
	Process(operation string, data []float64) []float64
}

// Func is a per-element transform.
type Func func(x float64) float64

var operations = map[string]Func{
	"identity":     func(x float64) float64 { return x },
	"add_one":      func(x float64) float64 { return x + 1 },
	"subtract_one": func(x float64) float64 { return x - 1 },
	"sin":          math.Sin,
	"cos":          math.Cos,
	"sin_plus_cos": func(x float64) float64 { return math.Sin(x) + math.Cos(x) },
	"sqrt_abs":     func(x float64) float64 { return math.Sqrt(math.Abs(x)) },
	// sin²x + cos²x, always 1 up to rounding
	"unit_circle":    func(x float64) float64 { s, c := math.Sincos(x); return s*s + c*c },
	DefaultOperation: formula,
}

// formula is ((sin x + cos x)^2) / (sqrt|x| + 1).
func formula(x float64) float64 {
	s := math.Sin(x) + math.Cos(x)
	return (s * s) / (math.Sqrt(math.Abs(x)) + 1)
}

// Formula is the Processor the server uses unless told otherwise.
type Formula struct{}

// Process implements Processor.
func (Formula) Process(operation string, data []float64) []float64 {
	return Transform(operation, data)
}

// Transform applies the named operation element-wise into a new slice.
func Transform(operation string, data []float64) []float64 {
	fn := Lookup(operation)
	out := make([]float64, len(data))
	for i, x := range data {
		out[i] = fn(x)
	}
	return out
}

// Lookup returns the named operation, falling back to DefaultOperation.
func Lookup(operation string) Func {
	if fn, ok := operations[operation]; ok {
		return fn
	}
	return operations[DefaultOperation]
}

// Known reports whether operation names a registered transform.
func Known(operation string) bool {
	_, ok := operations[operation]
	return ok
}
