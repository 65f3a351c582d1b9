package redisx

import "time"

const (
	// idem:product:create:{idempotency key} -> pending marker, then the JSON response
	KeyIdemProductCreate = "idem:product:create:%s"

	// catalog:snapshot:{service} -> last committed snapshot as JSON
	KeySnapshot = "catalog:snapshot:%s"

	// dedup:{service}:{event id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLSnapshot    = 10 * time.Minute
	TTLDedup       = 48 * time.Hour
)
