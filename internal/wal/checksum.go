package wal

import "github.com/tuannm99/novadm/internal/common"

// Combine folds b into acc: acc = acc*Seed + b for every byte, with 32-bit
// wrapping arithmetic. Bytes are added as signed 8-bit values, which is what
// existing .log files were written with.
func Combine(acc uint32, b []byte) uint32 {
	for _, c := range b {
		acc = acc*common.Seed + uint32(int32(int8(c)))
	}
	return acc
}

// Checksum is the per-record checksum of a payload.
func Checksum(data []byte) uint32 {
	return Combine(0, data)
}
