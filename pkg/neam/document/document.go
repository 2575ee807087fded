// Package document loads plain-text documents for classification.
package document

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"unicode"
)

// Load reads the file at path line by line and re-inserts a newline after
// every line, including the last one. CRLF endings become LF.
func Load(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open document: %w", err)
	}
	defer f.Close()

	var b strings.Builder
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		b.WriteString(strings.TrimSuffix(scanner.Text(), "\r"))
		b.WriteByte('\n')
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("read document: %w", err)
	}
	return b.String(), nil
}

// Words splits text on whitespace. Punctuation stays attached to words.
func Words(text string) []string {
	return strings.FieldsFunc(text, unicode.IsSpace)
}

var asciiReplacer = strings.NewReplacer(
	"\u2018", "'",
	"\u2019", "'",
	"\uFEFF", "",
)

// ASCIIfy replaces curly single quotes with an apostrophe and drops byte
// order marks.
func ASCIIfy(text string) string {
	return asciiReplacer.Replace(text)
}
