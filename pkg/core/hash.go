package core

import "github.com/spaolacci/murmur3"

func Hash(key []byte) uint32 {
	return murmur3.Sum32(key)
}

// Partition assigns a marshalled key to one of numPartitions reduce shards.
func Partition(key []byte, numPartitions int) int {
	if numPartitions <= 0 {
		return 0
	}
	return int(Hash(key) % uint32(numPartitions))
}
