package dht

const (
	// K is the maximum number of contacts in a single bucket, and the
	// number of peers a lookup returns.
	K     = 20
	Alpha = 3 // parallelism of one lookup round
)
