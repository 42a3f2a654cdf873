package session

import "math"

// gaugeBase sets how quickly the gauge saturates: higher bases fill faster.
const gaugeBase = 1.3

// maxAmount is the largest float64 below 1. Amounts never reach a full gauge.
var maxAmount = math.Nextafter(1, 0)

// RateToAmount maps an instantaneous rate in Mbit/s onto a gauge fill in
// [0, 1) using 1 - 1/1.3^sqrt(rate). Small rates move the needle visibly and
// very high rates saturate smoothly. Negative and NaN rates map to 0.
func RateToAmount(rateMbps float64) float64 {
	if math.IsNaN(rateMbps) || rateMbps <= 0 {
		return 0
	}
	amount := 1 - 1/math.Pow(gaugeBase, math.Sqrt(rateMbps))
	if amount >= 1 {
		return maxAmount
	}
	return amount
}
