// Package cmd contains helpers shared by the josh commands.
package cmd

// GetOrPanic returns v, or panics if err is not nil.
func GetOrPanic[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}

	return v
}

// OrPanic panics if err is not nil.
func OrPanic(err error) {
	if err != nil {
		panic(err)
	}
}
