package otc

import (
	"math"
	"strconv"
	"unicode/utf16"

	"OTCFeed/pkg/util"
)

// lcg is the 32-bit linear congruential generator every observer reproduces.
type lcg struct {
	state uint32
}

func newLCG(seed uint32) *lcg { return &lcg{state: seed} }

// next returns a uniform value in [0, 1].
func (g *lcg) next() float64 {
	g.state = g.state*1664525 + 1013904223
	return float64(g.state) / 4294967295
}

// gaussian draws a standard normal value with the Box-Muller transform.
func (g *lcg) gaussian() float64 {
	u1 := math.Max(g.next(), 1e-4)
	u2 := g.next()
	return math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)
}

// stringHash is the 31-multiplier hash over UTF-16 code units with int32 wraparound.
func stringHash(s string) int32 {
	var h int32
	for _, unit := range utf16.Encode([]rune(s)) {
		h = 31*h + int32(unit)
	}
	return h
}

// seedFor returns |hash(key)| as the LCG seed.
func seedFor(key string) uint32 {
	h := int64(stringHash(key))
	if h < 0 {
		h = -h
	}
	return uint32(h)
}

func minuteSeedKey(symbol string, unixMs int64) string {
	return symbol + ":" + strconv.FormatInt(util.FloorDiv(unixMs, 60000), 10)
}

func historySeedKey(symbol string, unixMs, intervalMs int64) string {
	return symbol + ":hist:" + strconv.FormatInt(util.FloorDiv(unixMs, intervalMs), 10)
}
