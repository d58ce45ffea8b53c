// Package tokens estimates prompt size and turns a wallet balance into an
// output-token allowance for one send.
package tokens

import (
	"math"
	"sync"

	"github.com/tiktoken-go/tokenizer"

	"chatflow/internal/chat"
)

const (
	// ChatML framing: each message costs a few tokens beyond its content, and the
	// reply is primed with a fixed header.
	tokensPerMessage = 3
	replyPriming     = 3
)

var (
	codecsMu sync.Mutex
	codecs   = map[tokenizer.Encoding]tokenizer.Codec{}
)

func codecFor(encoding string) (tokenizer.Codec, error) {
	enc := tokenizer.Encoding(encoding)
	switch enc {
	case tokenizer.Cl100kBase, tokenizer.O200kBase, tokenizer.P50kBase, tokenizer.R50kBase:
	default:
		enc = tokenizer.Cl100kBase
	}

	codecsMu.Lock()
	defer codecsMu.Unlock()
	if c, ok := codecs[enc]; ok {
		return c, nil
	}
	c, err := tokenizer.Get(enc)
	if err != nil {
		return nil, err
	}
	codecs[enc] = c
	return c, nil
}

// Count returns the token count of text, falling back to a four-characters-per
// token approximation when no codec is available.
func Count(text, encoding string) int {
	c, err := codecFor(encoding)
	if err == nil {
		ids, _, err := c.Encode(text)
		if err == nil {
			return len(ids)
		}
	}
	return (len(text) + 3) / 4
}

type Budget struct{}

var _ chat.TokenBudget = Budget{}

func (Budget) EstimateInputTokens(messages []chat.ContextMessage, cfg chat.ModelConfig) int {
	total := replyPriming
	for _, m := range messages {
		total += tokensPerMessage
		total += Count(string(m.Role), cfg.TokenizationEncoding)
		total += Count(m.Content, cfg.TokenizationEncoding)
	}
	return total
}

// MaxOutputTokens is the largest completion the balance can pay for after the
// input cost, bounded by the context window and the model's hard cap.
func (Budget) MaxOutputTokens(balance float64, inputTokens int, cfg chat.ModelConfig) int {
	inRate := cfg.InputTokenCostRate
	if inRate <= 0 {
		inRate = 1
	}
	outRate := cfg.OutputTokenCostRate
	if outRate <= 0 {
		outRate = 1
	}

	spendable := balance + float64(cfg.DeficitToleranceTokens) - float64(inputTokens)*inRate
	if spendable <= 0 {
		return 0
	}
	n := int(math.Floor(spendable / outRate))

	if cfg.ContextWindowTokens > 0 {
		if room := cfg.ContextWindowTokens - inputTokens; room < n {
			n = room
		}
	}
	if cfg.HardCapOutputTokens > 0 && n > cfg.HardCapOutputTokens {
		n = cfg.HardCapOutputTokens
	}
	if n < 0 {
		return 0
	}
	return n
}
