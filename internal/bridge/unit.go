package bridge

// UnitProfile carries the scale-dependent numeric constraints of a
// thermostat. The Fahrenheit and Celsius variants share one Thermostat
// type parameterised by this value object.
type UnitProfile struct {
	// Scale is the vendor scale tag, "F" or "C".
	Scale string

	// Min and Max bound every setpoint.
	Min float64
	Max float64

	// Step is the increment applied by BRT/DIM.
	Step float64

	// Split is the minimum separation between the heat and cool
	// setpoints in heat-cool mode.
	Split float64
}

// Unit profiles for the two vendor temperature scales.
var (
	ProfileFahrenheit = UnitProfile{Scale: "F", Min: 50, Max: 90, Step: 1, Split: 3}
	ProfileCelsius    = UnitProfile{Scale: "C", Min: 9, Max: 32, Step: 0.5, Split: 1.5}
)

// ProfileForScale returns the unit profile for a vendor scale tag,
// defaulting to Fahrenheit for unknown tags.
func ProfileForScale(scale string) UnitProfile {
	if scale == "C" {
		return ProfileCelsius
	}
	return ProfileFahrenheit
}

// suffix returns the vendor field suffix for this scale.
func (p UnitProfile) suffix() string {
	if p.Scale == "C" {
		return "_c"
	}
	return "_f"
}

// InRange reports whether a setpoint lies inside the absolute range.
func (p UnitProfile) InRange(value float64) bool {
	return value >= p.Min && value <= p.Max
}
