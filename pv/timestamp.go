package pv

import "math"

// Timestamp converts a raw camera timestamp to scaled time units.  The
// camera reports time since power-on as a 64-bit tick count split across two
// 32-bit words; tsFreq is the tick rate, timeScale the desired output unit
// (1e6 for microseconds).  A zero tsFreq is treated as 1 so a misreporting
// device cannot cause a divide by zero.
func Timestamp(hi, lo uint32, tsFreq uint32, timeScale float64) int64 {
	if tsFreq == 0 {
		tsFreq = 1
	}
	t := float64(hi)*4294967295.0 + float64(lo)
	t *= timeScale / float64(tsFreq)
	return int64(math.Round(t))
}
