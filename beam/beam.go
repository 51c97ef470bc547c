// Package beam provides analytic instrument beam window functions.
package beam

import "math"

// arcminToRad converts arcminutes to radians.
const arcminToRad = math.Pi / 180 / 60

// Gaussian returns the harmonic-space window of a Gaussian beam with the
// given full width at half maximum in arcminutes, evaluated at the given
// multipoles: exp(-0.5*l*(l+1)*sigma^2) with sigma = fwhm/sqrt(8*ln2).
func Gaussian(ell []float64, fwhmArcmin float64) []float64 {
	sigma := fwhmArcmin * arcminToRad / math.Sqrt(8*math.Ln2)
	w := make([]float64, len(ell))
	for i, l := range ell {
		w[i] = math.Exp(-0.5 * l * (l + 1) * sigma * sigma)
	}
	return w
}
