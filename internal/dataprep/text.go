package dataprep

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"github.com/rs/zerolog/log"
)

// TopTokenCount is the number of most frequent tokens reported.
const TopTokenCount = 10

// PreviewChars caps the cleaned text preview.
const PreviewChars = 500

var (
	wordPattern       = regexp.MustCompile(`[\p{L}\p{N}_]+`)
	whitespacePattern = regexp.MustCompile(`\s+`)
)

// TextProfile summarizes a document.
type TextProfile struct {
	Chars            int          `json:"chars"`
	Words            int          `json:"words"`
	AvgWordLen       float64      `json:"avg_word_len"`
	TopTokens        []TokenCount `json:"top_tokens"`
	BoilerplateRatio float64      `json:"boilerplate_ratio"`
}

// TokenCount is one frequent token. It encodes as ["token", count].
type TokenCount struct {
	Token string
	Count int
}

func (tc TokenCount) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{tc.Token, tc.Count})
}

// ExtractText returns the document text. PDFs are read page by page; every
// other name is treated as UTF-8 text.
func ExtractText(name string, data []byte) (string, []string, error) {
	if strings.EqualFold(filepath.Ext(name), ".pdf") {
		return extractPDF(data)
	}
	if !utf8.Valid(data) {
		return "", nil, fmt.Errorf("%s is not valid UTF-8 text", name)
	}
	text := string(data)
	return text, strings.Split(text, "\n"), nil
}

func extractPDF(data []byte) (string, []string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", nil, fmt.Errorf("open pdf: %w", err)
	}

	var (
		pages []string
		lines []string
	)
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			log.Debug().Err(err).Int("page", i).Msg("Skipping unreadable PDF page")
			continue
		}
		pages = append(pages, text)
		lines = append(lines, strings.Split(text, "\n")...)
	}
	if len(pages) == 0 {
		// Some PDFs only expose text through the whole-document reader.
		plain, err := reader.GetPlainText()
		if err != nil {
			return "", nil, fmt.Errorf("read pdf text: %w", err)
		}
		var buf bytes.Buffer
		if _, err := io.Copy(&buf, plain); err != nil {
			return "", nil, fmt.Errorf("read pdf text: %w", err)
		}
		text := buf.String()
		return text, strings.Split(text, "\n"), nil
	}
	return strings.Join(pages, "\n"), lines, nil
}

// ProfileText computes character, word and boilerplate statistics.
// Boilerplate is the share of lines that occur more than once.
func ProfileText(text string, lines []string) *TextProfile {
	words := wordPattern.FindAllString(text, -1)
	p := &TextProfile{
		Chars:     utf8.RuneCountInString(text),
		Words:     len(words),
		TopTokens: []TokenCount{},
	}

	counts := make(map[string]int)
	totalLen := 0
	for _, w := range words {
		totalLen += utf8.RuneCountInString(w)
		counts[strings.ToLower(w)]++
	}
	if len(words) > 0 {
		p.AvgWordLen = float64(totalLen) / float64(len(words))
	}

	for tok, n := range counts {
		p.TopTokens = append(p.TopTokens, TokenCount{Token: tok, Count: n})
	}
	sort.Slice(p.TopTokens, func(i, j int) bool {
		a, b := p.TopTokens[i], p.TopTokens[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.Token < b.Token
	})
	if len(p.TopTokens) > TopTokenCount {
		p.TopTokens = p.TopTokens[:TopTokenCount]
	}

	if len(lines) > 0 {
		lineCounts := make(map[string]int, len(lines))
		for _, l := range lines {
			lineCounts[l]++
		}
		repeated := 0
		for _, n := range lineCounts {
			if n > 1 {
				repeated += n
			}
		}
		p.BoilerplateRatio = float64(repeated) / float64(len(lines))
	}
	return p
}

// CleanText collapses whitespace and truncates to PreviewChars runes.
func CleanText(text string) string {
	text = strings.TrimSpace(whitespacePattern.ReplaceAllString(text, " "))
	if utf8.RuneCountInString(text) <= PreviewChars {
		return text
	}
	runes := []rune(text)
	return string(runes[:PreviewChars])
}
