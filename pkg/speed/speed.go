// Package speed converts pixel displacement into road speed.
//
// The conversion uses a single pixels-per-meter calibration constant for the
// whole frame. There is no perspective correction, so the estimate is only
// as good as the assumption that the road is roughly parallel to the image plane.
package speed

// MPSToKMPH converts meters per second to kilometers per hour
const MPSToKMPH = 3.6

// Estimate returns speed in km/h for an object that moved pixelDistance pixels
// in elapsedSeconds. Returns 0 if elapsedSeconds or pixelsPerMeter are not positive.
func Estimate(pixelDistance, elapsedSeconds, pixelsPerMeter float64) float64 {
	if elapsedSeconds <= 0 || pixelsPerMeter <= 0 {
		return 0
	}
	meters := pixelDistance / pixelsPerMeter
	return meters / elapsedSeconds * MPSToKMPH
}

// IsOverspeeding is true when speed is strictly above limit
func IsOverspeeding(speedKMH, limitKMH float64) bool {
	return speedKMH > limitKMH
}

// Estimator holds the calibration and limit, which are fixed for a run
type Estimator struct {
	PixelsPerMeter float64
	LimitKMH       float64
}

func (e Estimator) Estimate(pixelDistance, elapsedSeconds float64) float64 {
	return Estimate(pixelDistance, elapsedSeconds, e.PixelsPerMeter)
}

func (e Estimator) IsOverspeeding(speedKMH float64) bool {
	return IsOverspeeding(speedKMH, e.LimitKMH)
}
