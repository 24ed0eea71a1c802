// internal/provider/provider.go
package provider

// SendResult is the gateway's acknowledgement of an accepted message.
type SendResult struct {
	ProviderMessageID string
}

// SendError is a rejection from the gateway. Retryable errors (network
// faults, gateway 5xx) are retried with backoff; terminal errors (invalid
// number, blacklisted destination) end the attempt sequence immediately.
type SendError struct {
	Reason    string
	Retryable bool
}

func (e *SendError) Error() string {
	return e.Reason
}
