package constants

import "time"

// Test Constants
//
// IMPORTANT: These constants are for testing only. DO NOT use in production code.

// Socket Test Timeout Constants
const (
	// TestReceiveTimeout bounds a single expected-frame read in socket tests
	TestReceiveTimeout = 3 * time.Second

	// TestSettleDelay is the delay to wait for asynchronous side effects
	// (directory notifications, relay fan-out) to land in tests
	TestSettleDelay = 50 * time.Millisecond
)

// Concurrency Test Constants
const (
	// TestConcurrentClientsSmall is the number of concurrent clients for small load tests
	TestConcurrentClientsSmall = 10
)
