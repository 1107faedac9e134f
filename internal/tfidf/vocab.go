package tfidf

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// LoadVocabulary reads one term per line, skipping blank lines. The
// position of a term in the result is its column in the matrix.
func LoadVocabulary(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open vocabulary: %w", err)
	}
	defer func() { _ = file.Close() }()

	var vocab []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			vocab = append(vocab, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read vocabulary: %w", err)
	}
	return vocab, nil
}
