// Package lineage produces the tamper-evident Intent -> Receipt ->
// VerificationRecord chain for policy-gated actions.
//
// Verification first attempts the primary remote backend within a bounded
// timeout. On primary failure, and only when fallback is enabled by policy,
// a locally-signed record is produced instead and marked degraded; it is
// never silently upgraded to fully verified. When fallback is disabled and
// the primary fails, the action is blocked, not optimistically allowed.
//
// Every VerificationRecord, primary- or fallback-sourced, is appended to a
// single hash-chained line-delimited log with exactly one writer:
//
//	chain_hash(n) = keccak256(chain_hash(n-1) || canonical_bytes(record_n))
//
// Replaying the log from the genesis constant must reproduce every stored
// chain hash exactly; any divergence is surfaced as tampering.
package lineage
