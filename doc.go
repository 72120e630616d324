// Package testproxy provides call-recording test doubles for asynchronous
// service dependencies ("browser proxies").
//
// A Recorder declares the methods it intercepts, records the arguments of
// every call, hands out canned responses, and lets a test block until the
// code under test reaches a given method:
//
//	rec := testproxy.New("fetchData")
//	go codeUnderTest(fake) // fake's FetchData calls rec.MethodCalled("fetchData", id)
//	id, err := testproxy.WaitFor[int](ctx, rec.WhenCalled("fetchData"))
//
// WhenCalled does not miss calls that already happened: if the method was
// called and no earlier WhenCalled observed that call, the returned Future
// is already resolved with the most recent call.
//
// The seam package provides the injection point through which production
// code finds the double, and grpcproxy exposes a Recorder as a gRPC service.
package testproxy
