// Package license holds the license domain model: the License record, key
// generation and format helpers, and the pure decision logic for the device
// binding state machine. Nothing in this package touches storage or the
// network; callers feed it stored state plus the current time and apply the
// decisions it returns.
package license
