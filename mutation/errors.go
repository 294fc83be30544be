package mutation

import "errors"

// ErrNilFunc is returned by Mutate when the mutation has no function.
var ErrNilFunc = errors.New("mutation: mutation function is nil")
