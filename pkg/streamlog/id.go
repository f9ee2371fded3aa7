package streamlog

import (
	"strconv"
	"strings"
)

// CompareIDs orders two entry ids of the form "<ms>-<seq>". It returns a
// negative value if a < b, zero if equal, positive if a > b. An empty id
// sorts before everything.
func CompareIDs(a, b string) int {
	if a == b {
		return 0
	}
	if a == "" {
		return -1
	}
	if b == "" {
		return 1
	}

	aMs, aSeq := splitID(a)
	bMs, bSeq := splitID(b)

	switch {
	case aMs < bMs:
		return -1
	case aMs > bMs:
		return 1
	case aSeq < bSeq:
		return -1
	case aSeq > bSeq:
		return 1
	}
	return 0
}

func splitID(id string) (uint64, uint64) {
	ms, seq, ok := strings.Cut(id, "-")
	if !ok {
		n, _ := strconv.ParseUint(id, 10, 64)
		return n, 0
	}

	m, _ := strconv.ParseUint(ms, 10, 64)
	s, _ := strconv.ParseUint(seq, 10, 64)
	return m, s
}
