// Package packet decodes the 8-byte frames emitted by the amplifier board.
//
// Every reading is split over a byte pair: the first byte carries the 3 most
// significant bits and the second byte the 7 least significant bits, giving a
// 10-bit value in [0, 1023].
package packet

import "math"

const Size = 8

// MaxValue is the largest value a byte pair can carry.
const MaxValue = 1<<10 - 1

// a pair of 0xFF bytes is what the board sends for a channel it could not sample
const sentinel = 0xFF

// Decode turns a raw packet into its readings, one per byte pair, in packet
// order. It returns an empty slice when the length is odd or when every pair
// is a sentinel. Sentinel pairs inside an otherwise valid packet decode to NaN.
func Decode(raw []byte) []float64 {
	if len(raw) == 0 || len(raw)%2 != 0 {
		return []float64{}
	}

	values := make([]float64, 0, len(raw)/2)
	readable := false
	for i := 0; i < len(raw); i += 2 {
		hi, lo := raw[i], raw[i+1]
		if hi == sentinel && lo == sentinel {
			values = append(values, math.NaN())
			continue
		}
		readable = true
		values = append(values, float64(uint16(hi&0b111)<<7|uint16(lo&0b1111111)))
	}

	if !readable {
		return []float64{}
	}
	return values
}

// Mean reduces decoded readings to one scalar, skipping NaN entries.
func Mean(values []float64) (float64, bool) {
	sum := 0.0
	count := 0
	for _, v := range values {
		if math.IsNaN(v) {
			continue
		}
		sum += v
		count++
	}
	if count == 0 {
		return 0, false
	}
	return sum / float64(count), true
}
