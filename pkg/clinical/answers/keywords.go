package answers

import "strings"

const maxKeywords = 12

var stopwords = map[string]struct{}{}

func init() {
	for _, w := range []string{
		"the", "a", "an", "and", "or", "but", "if", "then", "so", "to", "of",
		"for", "with", "on", "in", "at", "by", "from", "is", "are", "was",
		"were", "be", "been", "being", "am", "i", "you", "he", "she", "we",
		"they", "it", "me", "my", "your", "yours", "his", "her", "hers",
		"our", "ours", "their", "theirs", "this", "that", "these", "those",
		"do", "did", "does", "done", "not", "no", "yes", "yeah", "yup",
		"nope", "nah", "ok", "okay", "please", "thanks",
	} {
		stopwords[w] = struct{}{}
	}
}

// Keywords tokenizes a transcript into lowercase alphanumeric runs (keeping
// + and -), drops stopwords and tokens under 3 characters, de-duplicates
// preserving order, and caps the result at 12 entries. Keywords are kept for
// audit and explanation context only.
func Keywords(transcript string) []string {
	t := strings.ToLower(transcript)
	var tokens []string
	var word strings.Builder
	flush := func() {
		if word.Len() > 0 {
			tokens = append(tokens, word.String())
			word.Reset()
		}
	}
	for _, ch := range t {
		if ch >= 'a' && ch <= 'z' || ch >= '0' && ch <= '9' || ch == '+' || ch == '-' {
			word.WriteRune(ch)
			continue
		}
		flush()
	}
	flush()

	seen := make(map[string]struct{}, len(tokens))
	out := make([]string, 0, maxKeywords)
	for _, tok := range tokens {
		if len(tok) < 3 {
			continue
		}
		if _, stop := stopwords[tok]; stop {
			continue
		}
		if _, dup := seen[tok]; dup {
			continue
		}
		seen[tok] = struct{}{}
		out = append(out, tok)
		if len(out) == maxKeywords {
			break
		}
	}
	return out
}
