package job

// DefaultMaxRetries is the canonical retry bound for retryable worker failures.
const DefaultMaxRetries = 3

// ShouldRetry decides whether a retryable failure re-queues the job or
// finalizes it. retryCount is the number of retries already consumed.
func ShouldRetry(retryCount, maxRetries int) bool {
	if maxRetries < 0 {
		maxRetries = DefaultMaxRetries
	}
	return retryCount < maxRetries
}
