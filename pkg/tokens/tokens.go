// Package tokens provides token counting for completed generations, backed
// by tiktoken-go. The cl100k_base encoding is lazily initialized on first
// use; if that fails (e.g. no network for the BPE download), counting falls
// back to a length/4 heuristic.
package tokens

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

var (
	once     sync.Once
	encoding *tiktoken.Tiktoken
)

func initEncoding() {
	once.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			encoding = enc
		}
	})
}

// Count returns the token count of text under cl100k_base, or a rough
// 1-token-per-4-characters estimate when the encoding is unavailable.
func Count(text string) int {
	initEncoding()

	if encoding != nil {
		return len(encoding.Encode(text, nil, nil))
	}

	return Estimate(text)
}

// Estimate returns the character-based fallback estimate.
func Estimate(text string) int {
	return len([]rune(text)) / 4
}
