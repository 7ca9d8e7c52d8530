package logger

import (
	"strconv"
	"strings"

	"go.uber.org/atomic"
)

// ratioSampler lets numerator out of every denominator events through.
// A zero ratio disables sampling and lets everything through.
type ratioSampler struct {
	ratio   atomic.Uint64 // numerator<<32 | denominator
	counter atomic.Uint64
}

func newRatioSampler(numerator, denominator int) *ratioSampler {
	s := &ratioSampler{}
	s.Set(numerator, denominator)
	return s
}

// Set replaces the ratio and restarts the cycle.
func (s *ratioSampler) Set(numerator, denominator int) {
	if numerator <= 0 || denominator <= 0 {
		s.ratio.Store(0)
		s.counter.Store(0)
		return
	}
	if numerator > denominator {
		numerator = denominator
	}
	s.ratio.Store(uint64(uint32(numerator))<<32 | uint64(uint32(denominator)))
	s.counter.Store(0)
}

// Allow reports whether the current event should pass sampling.
func (s *ratioSampler) Allow() bool {
	r := s.ratio.Load()
	if r == 0 {
		return true
	}
	num, den := r>>32, r&0xffffffff
	n := s.counter.Inc() - 1
	return n%den < num
}

// parseRatioSpec accepts "1/50", "50" (one in fifty) or "2%".
func parseRatioSpec(spec string) (int, int) {
	spec = strings.TrimSpace(spec)
	switch {
	case spec == "":
		return 0, 0
	case strings.HasSuffix(spec, "%"):
		pct, err := strconv.Atoi(strings.TrimSpace(strings.TrimSuffix(spec, "%")))
		if err != nil || pct <= 0 {
			return 0, 0
		}
		if pct > 100 {
			pct = 100
		}
		return pct, 100
	case strings.Contains(spec, "/"):
		numStr, denStr, _ := strings.Cut(spec, "/")
		num, err1 := strconv.Atoi(strings.TrimSpace(numStr))
		den, err2 := strconv.Atoi(strings.TrimSpace(denStr))
		if err1 == nil && err2 == nil {
			return num, den
		}
		return 0, 0
	}
	if v, err := strconv.Atoi(spec); err == nil && v > 0 {
		return 1, v
	}
	return 0, 0
}
