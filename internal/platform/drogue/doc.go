// Package drogue provides a client for the device registry REST API.
//
// The registry is the system of record for devices. Updates carry the
// device's resourceVersion as a precondition, so a stale write fails with
// ErrConflict instead of overwriting a newer record.
package drogue
