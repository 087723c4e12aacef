package sync

import "github.com/Tangerg/research-core/pkg/safe"

// Go same to safe.Go.
func Go(fn func(), errfns ...func(error)) {
	safe.Go(fn, errfns...)
}
