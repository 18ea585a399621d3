package models

// CacheStats reports the state of the result cache.
type CacheStats struct {
	Enabled     bool  `json:"enabled"`
	TTLSeconds  int64 `json:"ttl"`
	MaxSize     int   `json:"max_size"`
	CurrentSize int   `json:"current_size"`
	// ApproxBytes is the summed JSON size of the cached values.
	ApproxBytes int64 `json:"memory_usage_estimate"`
	Hits        int64 `json:"hits"`
	Misses      int64 `json:"misses"`
	Evictions   int64 `json:"evictions"`
	Expirations int64 `json:"expirations"`
}
