// Package provisioner drives external agent-instance creation for verified
// sessions.
//
// The orchestrator decides between three backends, in order: a configured
// external command, a static shared-instance URL, or failing closed as
// unconfigured. The command contract is strict: every dynamic value is
// passed through the process environment, never interpolated into a shell
// string, and the command must print either a bare URL or a JSON object
// with recognized keys on stdout.
//
// Only queue conflicts and rate limits are retried, under capped
// exponential backoff bounded by both an attempt ceiling and a wall-clock
// budget. Every attempt is recorded as a ProvisioningRun row; superseded
// in-flight runs are sealed as such. After a successful attempt the new
// instance is health-polled within a bounded window and then seeded with
// the session's runtime configuration over an authenticated
// settings-import call.
package provisioner
