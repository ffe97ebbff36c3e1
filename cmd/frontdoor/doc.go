// Package main (cmd/frontdoor) implements the agent runtime frontdoor server.
//
// The frontdoor server provides HTTP endpoints for wallet-authenticated
// session establishment: challenge issuance, personal-sign verification,
// runtime configuration validation, and background provisioning of agent
// runtime instances. Gated actions against a provisioned instance are
// anchored into an append-only, hash-chained verification log.
//
// The server supports two provisioning backends:
//
//   - Command backend: an external executable invoked with the session's
//     parameters passed as environment variables. Its output names the
//     instance that was provisioned.
//
//   - Default instance URL: a preprovisioned shared instance handed to
//     every verified session. Used when no command backend is configured.
//
// Verification of gated actions prefers the configured primary backend; if
// it is unreachable and fallback is enabled, the server mints a locally
// signed verification record instead and marks the session degraded. All
// verification records, primary and fallback, are sealed into the chain
// log, which is integrity-checked on startup.
//
// Configuration is handled through command-line flags, with separate
// settings for the provisioning backend, the verification backends, the
// challenge window, storage paths, and logging.
//
// The server implements graceful shutdown on receiving termination signals
// (SIGINT/SIGTERM) and supports health checks and optional profiling
// endpoints.
//
// Example usage with a command backend:
//
//	frontdoor --listen-addr=0.0.0.0:8080 \
//	    --db-path=/var/lib/frontdoor/frontdoor.db \
//	    --chain-log-path=/var/lib/frontdoor/lineage.chain.jsonl \
//	    --provision-cmd=/usr/local/bin/provision-runtime \
//	    --signing-key=$FRONTDOOR_SIGNING_KEY \
//	    --verifier-url=https://verifier.example.com/attest
//
// Example usage with a preprovisioned instance:
//
//	frontdoor --listen-addr=0.0.0.0:8080 \
//	    --default-instance-url=http://10.0.0.5:3000 \
//	    --signing-key=$FRONTDOOR_SIGNING_KEY
package main
