package testutil

import "time"

// FutureTimeout is how long Go tests wait on a testproxy.Future before
// failing. Futures resolve synchronously with the call, so anything beyond a
// scheduling delay means the call never happened.
const FutureTimeout = 1 * time.Second

// PollingInterval is the interval WaitForCallCount polls at.
const PollingInterval = 10 * time.Millisecond
