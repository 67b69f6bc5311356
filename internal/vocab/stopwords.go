package vocab

// stopwords are common tokens never worth tracking, regardless of how often
// they co-occur with blocked content.
var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "are": true, "but": true,
	"not": true, "you": true, "all": true, "any": true, "can": true,
	"her": true, "was": true, "one": true, "our": true, "out": true,
	"his": true, "has": true, "had": true, "how": true, "man": true,
	"new": true, "now": true, "old": true, "see": true, "two": true,
	"way": true, "who": true, "did": true, "get": true, "let": true,
	"say": true, "she": true, "too": true, "use": true, "that": true,
	"with": true, "have": true, "this": true, "will": true, "your": true,
	"from": true, "they": true, "been": true, "were": true, "what": true,
	"when": true, "where": true, "would": true, "there": true, "their": true,
	"about": true, "which": true, "these": true, "those": true,
	"don't": true, "it's": true, "i'm": true, "you're": true,
}

// Stopword reports whether a normalized token is in the stopword set.
func Stopword(token string) bool {
	return stopwords[token]
}
