package utils

import "hash/fnv"

// HashStringToUint64 is 64-bit FNV-1a.
func HashStringToUint64(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}

// PickIndex maps key onto [0, n). The same key always lands on the same
// index for a given n. It returns 0 when n <= 1.
func PickIndex(key string, n int) int {
	if n <= 1 {
		return 0
	}
	return int(HashStringToUint64(key) % uint64(n))
}
