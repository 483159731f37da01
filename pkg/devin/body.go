package devin

import (
	"regexp"
	"strings"
	"sync"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/pkoukk/tiktoken-go"
)

// TruncationMarker is appended to an issue body cut down to the token budget.
const TruncationMarker = "[Issue description truncated]"

// charsPerToken is the estimate used when no tokenizer is available.
const charsPerToken = 4

var htmlDocument = regexp.MustCompile(`(?i)^<(!doctype html|html|body|div|p|table|ul|ol|h[1-6])[\s>]`)

// BodyPreparer normalizes issue bodies before they are embedded in a prompt.
// HTML documents are converted to Markdown and, when MaxTokens is positive,
// the result is trimmed to that many cl100k_base tokens.
type BodyPreparer struct {
	MaxTokens int

	once sync.Once
	enc  *tiktoken.Tiktoken
}

// Prepare returns body ready for prompting.
func (p *BodyPreparer) Prepare(body string) string {
	body = strings.TrimSpace(body)
	if body == "" {
		return ""
	}
	if htmlDocument.MatchString(body) {
		if md, err := htmltomarkdown.ConvertString(body); err == nil {
			body = strings.TrimSpace(md)
		}
	}
	if p == nil || p.MaxTokens <= 0 {
		return body
	}
	return p.truncate(body)
}

func (p *BodyPreparer) truncate(body string) string {
	p.once.Do(func() {
		// Left nil on failure; the character estimate takes over.
		p.enc, _ = tiktoken.GetEncoding("cl100k_base")
	})

	if p.enc == nil {
		limit := p.MaxTokens * charsPerToken
		if len(body) <= limit {
			return body
		}
		return cutRunes(body, limit) + "\n\n" + TruncationMarker
	}

	tokens := p.enc.Encode(body, nil, nil)
	if len(tokens) <= p.MaxTokens {
		return body
	}
	// A token boundary may fall inside a multi-byte rune.
	prefix := strings.ToValidUTF8(p.enc.Decode(tokens[:p.MaxTokens]), "")
	return strings.TrimSpace(prefix) + "\n\n" + TruncationMarker
}

// cutRunes cuts s to at most n bytes without splitting a rune.
func cutRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8RuneStart(s[n]) {
		n--
	}
	return strings.TrimSpace(s[:n])
}

func utf8RuneStart(b byte) bool { return b&0xC0 != 0x80 }
