// Package bidsession keeps a storefront client's authentication state coherent
// while three independent asynchronous sources drive it: hydration from
// persisted storage at boot, a periodic keep-alive poll that may silently
// rotate credentials, and a server-pushed invalidation event delivered over a
// long-lived subscription channel. A secondary short-lived two-factor
// challenge flow is tracked separately so a half-authenticated user can never
// look signed in.
//
// The package is designed for concurrent client workloads: SessionManager
// methods are safe to call from multiple goroutines after initialization
// through [Builder.Build] and [SessionManager.Start].
//
// # Architecture boundaries
//
// bidsession is the public surface. It exposes [SessionManager], [Builder],
// [Config], and value types (Session, User, LoginPayload, etc.). Transport is
// always a collaborator: the REST backend is consumed through [AuthAPI], the
// push channel through [PushChannel], and persistence through the snapshot
// package's Store interface. Default implementations live in the restapi,
// cable, and snapshot subpackages; none of them is required.
//
// # What this package must NOT do
//
//   - Render UI, route, or hold framework state. Callers keep a reference to
//     one SessionManager and read snapshots from it.
//   - Verify or sign tokens. Credentials are opaque; the server is the only
//     authority on their validity.
//   - Throw transport failures into callers from the poller or the push
//     listener. Those resolve into state transitions or log lines.
//
// # Consistency contract
//
// The access token, refresh token, and session token id are swapped as one
// value: no observer ever sees a torn triple. A session whose remaining time
// reaches zero is signed out before any other field of the same poll response
// is applied. Late results from a superseded credential set are dropped by a
// generation check, never applied.
package bidsession
