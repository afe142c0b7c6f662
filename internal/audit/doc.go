// Package audit implements the security event pipeline: enrichment, risk
// scoring, asynchronous persistence, and anomaly detection.
//
// # Components
//
//   - [Event] is the append-only security record.
//   - [RiskRules] is the ordered, first-match-wins risk table.
//   - [Dispatcher] relays events to a [Sink] without blocking callers.
//   - [Detector] runs the brute-force and new-device checks over a [Store].
//   - [Engine] ties the above together; its Log method never fails.
//
// # Architecture boundaries
//
// This package owns how an event is scored, stored, and inspected. It does
// NOT decide which operations emit events; the Engine and the flow
// functions do that.
//
// # What this package must NOT do
//
//   - Return errors or panic into the caller of Log.
//   - Import careauth or any sibling internal package.
//   - Treat detector output as authoritative: duplicates under concurrency are expected.
package audit
