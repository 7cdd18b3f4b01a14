package conversation

// Estimator maps text to an approximate token count. Implementations must be
// deterministic, monotonic in input length, return 0 for "" and at least 1
// for any non-empty text.
type Estimator func(text string) int

// CharEstimator assumes roughly four bytes per token and rounds up, so every
// non-empty string costs at least one token.
func CharEstimator(text string) int {
	l := len(text)
	if l == 0 {
		return 0
	}
	return (l + 3) / 4
}
