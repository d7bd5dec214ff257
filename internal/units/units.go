// Package units converts between the native length units of the presentation
// container (EMU, points) and the percentage-of-slide coordinates the rest of
// the service works in. All conversions are pure functions; native absolute
// units never leave this package's callers in persisted or exported form.
package units

const (
	// EMUPerInch is the number of English Metric Units per inch.
	EMUPerInch = 914400
	// DPI is the pixel density used when mapping slide dimensions to pixels.
	DPI = 96
	// PointsPerInch is the number of typographic points per inch.
	PointsPerInch = 72
)

// ToPercentage converts a native value on an axis to a percentage of that
// axis extent. Results may legitimately be negative or exceed 100 for
// off-canvas shapes; no clamping happens here. A zero axis extent is a
// programmer error and panics: callers must validate slide dimensions first.
func ToPercentage(value, axisExtent float64) float64 {
	if axisExtent == 0 {
		panic("units: zero axis extent")
	}
	return value / axisExtent * 100
}

// ToAbsolute converts a percentage of an axis extent back to a native value.
// ToAbsolute(ToPercentage(v, e), e) round-trips within 0.01% of v.
func ToAbsolute(percentage, axisExtent float64) float64 {
	if axisExtent == 0 {
		panic("units: zero axis extent")
	}
	return percentage / 100 * axisExtent
}

// EMUToPixels maps an EMU length to pixels at the standard DPI.
func EMUToPixels(emu int64) int {
	return int(float64(emu) / EMUPerInch * DPI)
}

// PointsToPixels maps a point size to pixels at the standard DPI.
func PointsToPixels(pt float64) float64 {
	return pt / PointsPerInch * DPI
}

// PercentToPixels maps a percentage of a pixel extent to pixels.
func PercentToPixels(percent float64, extentPx int) float64 {
	return percent / 100 * float64(extentPx)
}
