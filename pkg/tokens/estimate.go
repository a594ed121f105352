package tokens

import (
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

var (
	codec     tokenizer.Codec
	codecOnce sync.Once
	codecErr  error
)

// cl100k_base is a reasonable approximation for every model the client
// targets.
func getCodec() (tokenizer.Codec, error) {
	codecOnce.Do(func() {
		codec, codecErr = tokenizer.Get(tokenizer.Cl100kBase)
	})
	return codec, codecErr
}

// Estimate returns an approximate token count for the given text.
func Estimate(text string) (int, error) {
	c, err := getCodec()
	if err != nil {
		return 0, err
	}
	ids, _, err := c.Encode(text)
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

// EstimateOrZero is Estimate for diagnostic paths where an encoding error
// should not interrupt the caller.
func EstimateOrZero(text string) int {
	n, err := Estimate(text)
	if err != nil {
		return 0
	}
	return n
}
