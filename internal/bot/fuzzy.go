package bot

// diceCoefficient scores the bigram similarity of two strings in
// [0, 1]. Bigrams containing whitespace are skipped so word order
// matters less than shared fragments. Callers lowercase their inputs.
func diceCoefficient(a, b string) float64 {
	if a == b {
		return 1
	}

	ba := bigrams(a)
	bb := bigrams(b)
	if len(ba) == 0 || len(bb) == 0 {
		return 0
	}

	counts := make(map[[2]rune]int, len(ba))
	for _, g := range ba {
		counts[g]++
	}

	matches := 0
	for _, g := range bb {
		if counts[g] > 0 {
			counts[g]--
			matches++
		}
	}

	return 2 * float64(matches) / float64(len(ba)+len(bb))
}

func bigrams(s string) [][2]rune {
	runes := []rune(s)
	var out [][2]rune
	for i := 0; i+1 < len(runes); i++ {
		if runes[i] == ' ' || runes[i+1] == ' ' {
			continue
		}
		out = append(out, [2]rune{runes[i], runes[i+1]})
	}
	return out
}

// bestMatch returns the candidate with the highest similarity to
// query. ok is false when there are no candidates or nothing overlaps
// at all.
func bestMatch(query string, candidates []string) (best string, ok bool) {
	bestScore := 0.0
	for _, c := range candidates {
		if score := diceCoefficient(query, c); score > bestScore {
			bestScore = score
			best = c
		}
	}
	return best, bestScore > 0
}
