// Package interfaces defines the core types and interfaces for the frontdoor
// provisioning service, separating the domain contract from implementations.
//
// # Domain Types
//
// FrontdoorSession: a wallet-bound provisioning session, from challenge
// issuance through signature verification to a running agent instance.
//
// ProvisioningRun: one attempt at provisioning external compute for a
// session. Attempt numbers per session are gapless and strictly increasing.
//
// TimelineEvent: an entry in a session's append-only, gaplessly sequenced
// event stream, consumed by polling clients.
//
// VerificationArtifactLink: an append-only binding of a wallet/workspace/
// module to an intent/receipt/verification-record tuple and its chain hash.
//
// # Storage
//
// Store: the persistence contract for sessions, runs, timeline events and
// artifact links. Monotonic counters (per-wallet session version, per-session
// attempt number and timeline sequence) are allocated by the store inside a
// single transaction with the owning insert.
//
// # Identity Types
//
// WalletAddress: 20-byte Ethereum account address, rendered lowercased with
// a 0x prefix everywhere it leaves the process.
package interfaces
