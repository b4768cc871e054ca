package util

import (
	"fmt"
	"strings"
)

// MultiError combines a number of errors into a single error value.
type MultiError []error

// Add appends err if it is non-nil.
func (me *MultiError) Add(err error) {
	if err != nil {
		*me = append(*me, err)
	}
}

func (me MultiError) IsEmpty() bool {
	return len(me) == 0
}

// Err returns nil for an empty MultiError so callers can return it directly.
func (me MultiError) Err() error {
	if me.IsEmpty() {
		return nil
	}
	return me
}

func (me MultiError) Error() string {
	if len(me) == 1 {
		return me[0].Error()
	}
	var b strings.Builder
	b.WriteString("[\n")
	for ii, err := range me {
		fmt.Fprintf(&b, "\t%d: %s\n", ii+1, err)
	}
	b.WriteString("]\n")
	return b.String()
}

// Unwrap exposes the individual errors to errors.Is and errors.As.
func (me MultiError) Unwrap() []error {
	return me
}
