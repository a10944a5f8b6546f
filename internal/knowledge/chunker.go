package knowledge

// Split cuts text into fixed-size rune windows with the given overlap.
// Text at most size runes long comes back as a single chunk. Overlap is
// clamped below size so the window always advances.
func Split(text string, size, overlap int) []string {
	if text == "" {
		return nil
	}
	if size <= 0 {
		return []string{text}
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size - 1
	}

	runes := []rune(text)
	if len(runes) <= size {
		return []string{text}
	}

	step := size - overlap
	chunks := make([]string, 0, (len(runes)+step-1)/step)
	for start := 0; start < len(runes); start += step {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}
	return chunks
}
