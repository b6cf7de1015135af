package vault

// splitTurns packs turns greedily into chunks whose rendered text stays
// within maxChars. A turn is never split across chunks, so a single turn
// larger than maxChars forms its own oversized chunk; the embedding gateway
// truncates in that degenerate case rather than this layer dropping content.
func splitTurns(turns []Turn, maxChars int) [][]Turn {
	if maxChars <= 0 || len(CombinedText(turns)) <= maxChars {
		return [][]Turn{turns}
	}

	// Joining cost between turns in CombinedText.
	const joiner = 2

	var chunks [][]Turn
	var current []Turn
	currentSize := 0

	for _, t := range turns {
		size := len(TurnText(t))
		next := currentSize + size
		if len(current) > 0 {
			next += joiner
		}

		if len(current) > 0 && next > maxChars {
			chunks = append(chunks, current)
			current = nil
			next = size
		}

		current = append(current, t)
		currentSize = next
	}

	if len(current) > 0 {
		chunks = append(chunks, current)
	}

	return chunks
}
