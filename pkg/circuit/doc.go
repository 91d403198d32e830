// Package circuit manages the server-side lifecycle of long-lived
// interactive sessions ("circuits") driven by a remote client over a
// persistent, possibly-interrupted transport connection.
//
// A circuit correlates three things that must stay consistent as the
// connection drops and reconnects:
//
//   - a server-held rendering/application state, owned by a Renderer
//     collaborator
//   - a bidirectional call-correlation mechanism for invoking client-side
//     operations from the server and server-side operations from the client
//   - a set of pluggable lifecycle handlers that run in registration order
//     and whose individual failures never corrupt the session
//
// The central type is Host, a state machine moving through
// Uninitialized → Initializing → Active, with Active ⇄ Disconnected
// reachable any number of times and Disposing → Disposed reachable from
// any state. All session-mutating work funnels through a per-circuit
// Dispatcher that guarantees strictly serialized, submission-ordered
// execution, so the correlation table and stream reassembler need no
// locking of their own.
//
// Failures escaping application code inside the render pipeline are fatal
// to the circuit; everything arriving from the client is treated as
// untrusted data whose errors are logged, best-effort reported back, and
// surfaced on the host's failure channel without tearing the process down.
package circuit
