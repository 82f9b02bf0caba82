package stream

import (
	"encoding/binary"
	"math"
	"sync/atomic"
)

// volume is a float64 gain readable from the send loop without locking.
type volume struct{ bits atomic.Uint64 }

func (v *volume) Set(g float64) {
	if g < 0 || math.IsNaN(g) {
		g = 0
	}
	v.bits.Store(math.Float64bits(g))
}

func (v *volume) Get() float64 { return math.Float64frombits(v.bits.Load()) }

// scalePCM multiplies interleaved s16le samples by gain in place, clipping
// at the int16 range.
func scalePCM(buf []byte, gain float64) {
	if gain == 1 {
		return
	}
	for i := 0; i+1 < len(buf); i += 2 {
		s := float64(int16(binary.LittleEndian.Uint16(buf[i:])))
		s = math.Round(s * gain)
		s = max(math.MinInt16, min(math.MaxInt16, s))
		binary.LittleEndian.PutUint16(buf[i:], uint16(int16(s)))
	}
}
