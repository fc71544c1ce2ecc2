package domain

// WindowSize is the capacity of a descriptor's response-time window.
const WindowSize = 10

// PushSample appends v to window, evicting the oldest sample first when the
// window is already full. The input slice is never modified.
func PushSample(window []float64, v float64) []float64 {
	start := 0
	if len(window) >= WindowSize {
		start = len(window) - WindowSize + 1
	}
	next := make([]float64, 0, WindowSize)
	next = append(next, window[start:]...)
	return append(next, v)
}

// Mean returns the arithmetic mean of window. ok is false for an empty window.
func Mean(window []float64) (avg float64, ok bool) {
	if len(window) == 0 {
		return 0, false
	}
	var total float64
	for _, v := range window {
		total += v
	}
	return total / float64(len(window)), true
}
