// Package retry provides exponential backoff retry logic for transient failures.
//
// [WithExponentialBackoff] retries an operation with configurable max attempts,
// initial delay, and maximum delay on top of cenkalti/backoff. It is used for
// broker connections and registry calls that may fail transiently.
package retry
