package channel

import "strings"

// DefaultMaxMessageLength is used by channels that don't impose a tighter
// transport limit (Telegram's is 4096, Discord's is 2000 — each channel
// adapter passes its own limit to Split).
const DefaultMaxMessageLength = 4000

// Split breaks content into chunks no longer than maxLen, splitting at
// newline boundaries where possible (spec.md §4.6). A single line longer
// than maxLen is hard-split mid-line rather than left oversized. Fenced
// code blocks (```...```) get no special treatment: a chunk boundary can
// fall inside a fence like anywhere else.
func Split(content string, maxLen int) []string {
	if maxLen <= 0 || len(content) <= maxLen {
		if content == "" {
			return nil
		}
		return []string{content}
	}

	lines := strings.Split(content, "\n")
	var chunks []string
	var cur strings.Builder

	flush := func() {
		if cur.Len() > 0 {
			chunks = append(chunks, cur.String())
			cur.Reset()
		}
	}

	for _, line := range lines {
		candidateLen := cur.Len() + len(line)
		if cur.Len() > 0 {
			candidateLen++ // for the joining "\n"
		}
		if candidateLen <= maxLen {
			if cur.Len() > 0 {
				cur.WriteByte('\n')
			}
			cur.WriteString(line)
			continue
		}

		flush()

		if len(line) <= maxLen {
			cur.WriteString(line)
			continue
		}

		// Single line still exceeds maxLen on its own: hard-split it.
		for len(line) > maxLen {
			chunks = append(chunks, line[:maxLen])
			line = line[maxLen:]
		}
		cur.WriteString(line)
	}
	flush()

	return chunks
}

// markdownTranslation is a pair of literal find/replace rules applied in
// order, used to translate between roughly-CommonMark markdown (what the
// model produces) and a channel's native dialect, outside of fenced code
// blocks.
type markdownTranslation struct {
	from, to string
}

// telegramMarkdownRules rewrites CommonMark-ish bold markers (**) to
// Telegram's legacy Markdown dialect, which uses single asterisks for
// bold. Italic markers are passed through unchanged.
var telegramMarkdownRules = []markdownTranslation{
	{"**", "*"},
}

// TranslateMarkdown rewrites markdown dialect-specific tokens in content
// per rules, leaving the contents of fenced code blocks (```...```)
// completely untouched.
func TranslateMarkdown(content string, rules []markdownTranslation) string {
	if len(rules) == 0 {
		return content
	}

	segments := splitOnFences(content)
	var out strings.Builder
	for _, seg := range segments {
		if seg.isCode {
			out.WriteString(seg.text)
			continue
		}
		text := seg.text
		for _, rule := range rules {
			text = strings.ReplaceAll(text, rule.from, rule.to)
		}
		out.WriteString(text)
	}
	return out.String()
}

type fenceSegment struct {
	text   string
	isCode bool
}

// splitOnFences partitions content into alternating prose/code-block
// segments on ``` fence markers. An unterminated trailing fence is
// treated as code through end of string, matching how a model streaming
// output would otherwise lose the fence's protection.
func splitOnFences(content string) []fenceSegment {
	const fence = "```"
	var segments []fenceSegment
	rest := content
	inCode := false
	for {
		idx := strings.Index(rest, fence)
		if idx == -1 {
			segments = append(segments, fenceSegment{text: rest, isCode: inCode})
			break
		}
		segments = append(segments, fenceSegment{text: rest[:idx+len(fence)], isCode: inCode})
		rest = rest[idx+len(fence):]
		inCode = !inCode
	}
	return segments
}
