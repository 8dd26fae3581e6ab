package snaperr

import "go.uber.org/multierr"

// Aggregator collects per-column errors across a run (one sync/scrub/fix
// pass touches many columns, each of which can fail independently
// without aborting the rest) and combines them into one summary error
// for cmd to classify and report, using go.uber.org/multierr rather
// than stopping at the first failure.
type Aggregator struct {
	err error
}

// Add records err, a no-op if err is nil.
func (a *Aggregator) Add(err error) {
	a.err = multierr.Append(a.err, err)
}

// Err returns the combined error, or nil if nothing was added.
func (a *Aggregator) Err() error {
	return a.err
}

// Len returns how many non-nil errors have been recorded.
func (a *Aggregator) Len() int {
	return len(multierr.Errors(a.err))
}
