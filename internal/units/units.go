// Package units provides the unit conversions used when configuring
// setpoint transforms. JSBSim consumes imperial units and radians; the
// control side works in metres and degrees.
package units

// Conversion factors.
const (
	Rad2Deg = 57.2957795
	Deg2Rad = 0.0174532925
	Feet2M  = 0.3048
	M2Feet  = 3.28084
)

// Unit name constants accepted in configuration files.
const (
	Metres  = "m"
	Feet    = "ft"
	Degrees = "deg"
	Radians = "rad"
)

// ScaleFor returns the outbound scale factor converting a control-side unit
// to the simulator-side unit, or 1.0 when no conversion applies.
func ScaleFor(from, to string) float64 {
	switch {
	case from == Metres && to == Feet:
		return M2Feet
	case from == Feet && to == Metres:
		return Feet2M
	case from == Degrees && to == Radians:
		return Deg2Rad
	case from == Radians && to == Degrees:
		return Rad2Deg
	default:
		return 1.0
	}
}

// MetresToFeet converts metres to feet.
func MetresToFeet(m float64) float64 { return m * M2Feet }

// FeetToMetres converts feet to metres.
func FeetToMetres(ft float64) float64 { return ft * Feet2M }

// DegreesToRadians converts degrees to radians.
func DegreesToRadians(deg float64) float64 { return deg * Deg2Rad }

// RadiansToDegrees converts radians to degrees.
func RadiansToDegrees(rad float64) float64 { return rad * Rad2Deg }
