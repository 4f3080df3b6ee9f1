package recovery

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"time"
	"unicode"
)

// Summary limits.
const (
	MaxExchanges = 3
	MaxTopics    = 10

	// maxExcerpt bounds each quoted message in the summary text, in runes.
	maxExcerpt = 500
)

// Message is the part of a conversation message the summary needs.
type Message struct {
	Role      string
	Content   string
	CreatedAt time.Time
}

// Exchange is a user message and the assistant reply that followed it.
type Exchange struct {
	User      string `json:"user"`
	Assistant string `json:"assistant"`
}

// Summary condenses a conversation for replay on a fresh thread.
type Summary struct {
	Exchanges []Exchange `json:"exchanges"`
	Topics    []string   `json:"topics"`
	Text      string     `json:"text"`
}

// stopWords are common words longer than three letters that carry no topic.
var stopWords = map[string]struct{}{}

func init() {
	for _, w := range strings.Fields(`
		about above after again against also because been before being below
		between both could does doing down during each even every from further
		have having here hers herself himself into itself just know like made
		make many more most much must myself need only other ours ourselves over
		please same says should show some such tell than that thats their theirs
		them themselves then there these they this those through under until
		very want were what when where which while whom with would your yours
		yourself yourselves give find list return returns using used`) {
		stopWords[w] = struct{}{}
	}
}

// Summarize keeps the last MaxExchanges user/assistant exchanges and the
// MaxTopics most frequent keywords of the user messages. An assistant
// message pairs with the latest unanswered user message before it, and
// only if it was created strictly after that message.
func Summarize(messages []Message) Summary {
	var (
		exchanges []Exchange
		pending   *Message
		userTexts []string
	)
	for i := range messages {
		m := &messages[i]
		switch m.Role {
		case "user":
			pending = m
			userTexts = append(userTexts, m.Content)
		case "assistant":
			if pending != nil && m.CreatedAt.After(pending.CreatedAt) {
				exchanges = append(exchanges, Exchange{User: pending.Content, Assistant: m.Content})
				pending = nil
			}
		}
	}
	if len(exchanges) > MaxExchanges {
		exchanges = exchanges[len(exchanges)-MaxExchanges:]
	}

	s := Summary{
		Exchanges: exchanges,
		Topics:    Keywords(userTexts, MaxTopics),
	}
	s.Text = render(s)
	return s
}

// Keywords returns the n most frequent words of texts that are longer than
// three letters and not stop words, most frequent first, ties broken
// alphabetically.
func Keywords(texts []string, n int) []string {
	counts := make(map[string]int)
	for _, text := range texts {
		words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
		})
		for _, w := range words {
			if len([]rune(w)) <= 3 {
				continue
			}
			if _, stop := stopWords[w]; stop {
				continue
			}
			counts[w]++
		}
	}

	words := make([]string, 0, len(counts))
	for w := range counts {
		words = append(words, w)
	}
	slices.SortFunc(words, func(a, b string) int {
		return cmp.Or(cmp.Compare(counts[b], counts[a]), cmp.Compare(a, b))
	})
	if len(words) > n {
		words = words[:n]
	}
	return words
}

func render(s Summary) string {
	var b strings.Builder
	b.WriteString("This conversation continues from a previous thread that ran out of context.\n")
	if len(s.Topics) > 0 {
		fmt.Fprintf(&b, "Key topics: %s.\n", strings.Join(s.Topics, ", "))
	}
	if len(s.Exchanges) > 0 {
		b.WriteString("\nRecent exchanges:\n")
		for _, ex := range s.Exchanges {
			fmt.Fprintf(&b, "User: %s\nAssistant: %s\n", excerpt(ex.User), excerpt(ex.Assistant))
		}
	}
	b.WriteString("\nAcknowledge this summary briefly. The conversation resumes with the next message.")
	return b.String()
}

func excerpt(s string) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= maxExcerpt {
		return s
	}
	return string(r[:maxExcerpt]) + "…"
}
