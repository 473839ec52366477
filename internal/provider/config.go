package provider

import "time"

// DefaultLoadTimeout bounds a single initialization attempt.
const DefaultLoadTimeout = 2 * time.Minute

// Filters are venue-specific load filters. The provider passes them through to
// the Loader without interpreting them.
type Filters = map[string]any

// Config controls what a provider loads on Initialize.
type Config struct {
	Venue       string        // venue every instrument id must belong to, e.g. "BINANCE"
	LoadAll     bool          // load every instrument on Initialize
	LoadIDs     []string      // "SYMBOL.VENUE" ids to load on Initialize when LoadAll is false
	Filters     Filters       // passed to the loader on Initialize
	LoadTimeout time.Duration // upper bound of one Initialize attempt; 0 means DefaultLoadTimeout
}
