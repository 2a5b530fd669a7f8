package domain

// EstimateTokens approximates the token count of a message list before the
// model call. It undercounts multibyte text slightly, which is acceptable
// for an allowance check that is re-reconciled against real usage.
func EstimateTokens(messages []Message) int64 {
	var total int64
	for _, m := range messages {
		// ~4 chars per token
		total += int64(len(m.Content)) / 4
		// overhead per message (role, formatting)
		total += 4
	}
	// base overhead for the request
	total += 3
	return total
}

// CreditsForTokens converts a token count to credits at a per-thousand-token
// unit price, rounding up so fractional usage is never free.
func CreditsForTokens(tokens, creditsPerThousand int64) int64 {
	if tokens <= 0 || creditsPerThousand <= 0 {
		return 0
	}
	return (tokens*creditsPerThousand + 999) / 1000
}
