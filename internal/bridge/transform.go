package bridge

// BuildCommand computes the outbound wire vector from the three parameter
// vectors: out[i] = scale[i] * (setpoint[i] + bias[i]). Output order matches
// the registry index order exactly; the simulator interprets wire position
// positionally, not by name.
//
// The three slices must be the same length. BuildCommand is a pure function
// and never mutates its inputs.
func BuildCommand(setpoint, scale, bias []float64) []float64 {
	out := make([]float64, len(setpoint))
	for i := range setpoint {
		out[i] = scale[i] * (setpoint[i] + bias[i])
	}
	return out
}
