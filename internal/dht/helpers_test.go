package dht

// testLocation builds a Location with an explicit ID, bypassing the
// "host:port" derivation so tests can place peers in chosen buckets.
func testLocation(id ID, port uint16) Location {
	return Location{ID: id, Host: "127.0.0.1", Port: port}
}

// idInBucket returns an ID whose BucketIndex relative to self is bucket.
// Different n yield different IDs in the same bucket (bucket < 240).
func idInBucket(self ID, bucket, n int) ID {
	id := self
	id[bucket/8] ^= 0x80 >> uint(bucket%8)
	id[IDBytes-1] ^= byte(n)
	id[IDBytes-2] ^= byte(n >> 8)
	return id
}
