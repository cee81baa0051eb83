// Package engine implements crucible's test registry and execution engine.
//
// The registry holds immutable test case definitions keyed by unique
// identifier. The executor runs one case at a time through a fixed
// lifecycle:
//
//	RUNNING -> setup hook -> body attempts -> teardown -> terminal status
//
// Guarantees:
//
//   - The setup hook and every body attempt run under the case's timeout.
//   - A timeout is terminal: the attempt's context is cancelled, the result
//     is ERROR and no further retries happen.
//   - A non-timeout failure is retried up to Retries additional times; on
//     the final attempt an assertion failure (Failf) becomes FAILED and any
//     other error becomes ERROR.
//   - Teardown runs exactly once per execution, on every exit path, and its
//     failure never changes the result's status.
//
// Lifecycle extensions (unit, integration, system, performance) compose
// around the engine through Hooks rather than re-implementing this control
// flow: BeforeBody for their own setup, AfterBody for verification that may
// downgrade a PASSED result, Cleanup for guaranteed resource release.
package engine
