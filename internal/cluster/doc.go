// Package cluster defines the wire protocol for the shardd HTTP API and
// the JSON client helpers used to speak it.
//
// The daemon exposes a small surface:
//
//	POST /batch          - execute an intra-shard batch
//	POST /transfer       - submit a cross-shard transfer
//	GET  /transfer/{id}  - poll a transfer's state
//	POST /finalize       - mark a committed batch final (persists it)
//	GET  /accounts/{id}  - read one account
//	GET  /stats          - per-shard counters and totals
//	GET  /health         - liveness probe
//
// Every request and response body is JSON. Errors come back as an
// ErrorResponse with a non-2xx status; PostJSON and GetJSON surface the
// embedded message when one is present.
//
// PostJSON and GetJSON are the client half of the protocol. The daemon
// serves these routes without them; they exist for external tooling and
// multi-process deployments that talk to a running shardd.
package cluster
