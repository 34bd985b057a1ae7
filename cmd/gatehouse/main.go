// Gatehouse is an API-key admission control service.
//
// It sits in front of an API and decides, per request, whether the
// presented key may proceed: tiered token-bucket rate limiting,
// monthly quota with purchasable add-on overlay, and domain/IP/
// environment origin validation, composed into a single decision with
// a stable response header contract.
//
// Usage:
//
//	# Start the server with default configuration
//	gatehouse run
//
//	# Start with a custom configuration file
//	gatehouse run --config /path/to/config.yaml
//
//	# Trigger an immediate quota rollover
//	gatehouse reset
//
//	# Show version information
//	gatehouse version
package main

func main() {
	Execute()
}
