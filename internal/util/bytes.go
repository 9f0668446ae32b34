package util

import "fmt"

// FormatMiBps formats a bytes-per-second rate as mebibytes per second with
// two decimal places, e.g. "3.42".
func FormatMiBps(bytesPerSecond float64) string {
	return fmt.Sprintf("%.2f", bytesPerSecond/(1024*1024))
}

// FormatETA renders a duration in seconds as a coarse human string:
// "Ns" below a minute, "Nm" below an hour, else "Nh" — all rounded.
func FormatETA(seconds float64) string {
	switch {
	case seconds < 60:
		return fmt.Sprintf("%ds", roundInt(seconds))
	case seconds < 3600:
		return fmt.Sprintf("%dm", roundInt(seconds/60))
	default:
		return fmt.Sprintf("%dh", roundInt(seconds/3600))
	}
}

func roundInt(f float64) int {
	if f < 0 {
		f = 0
	}
	return int(f + 0.5)
}
