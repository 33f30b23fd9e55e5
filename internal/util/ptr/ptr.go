// Package ptr provides helpers for optional values represented as pointers.
package ptr

// To returns a pointer to a copy of v.
func To[T any](v T) *T { return &v }

// Deref returns the value p points to, or def if p is nil.
func Deref[T any](p *T, def T) T {
	if p == nil {
		return def
	}
	return *p
}

// Error returns a pointer to the message of err, or nil if err is nil.
func Error(err error) *string {
	if err == nil {
		return nil
	}
	return To(err.Error())
}
