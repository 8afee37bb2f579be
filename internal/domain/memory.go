package domain

import (
	"strings"
	"time"
)

// Sentiment is the extracted overall user sentiment of a conversation.
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

// ParseSentiment normalizes a raw extraction value, defaulting to neutral.
func ParseSentiment(raw string) Sentiment {
	switch Sentiment(strings.ToLower(strings.TrimSpace(raw))) {
	case SentimentPositive:
		return SentimentPositive
	case SentimentNegative:
		return SentimentNegative
	default:
		return SentimentNeutral
	}
}

// ConversationSummary is the memory-side record of one conversation: a
// single-paragraph summary with extracted entities, sentiment, and an
// embedding vector for semantic retrieval. One per sessionId per user.
type ConversationSummary struct {
	UserID        string    `json:"userId"`
	SessionID     string    `json:"sessionId"`
	Summary       string    `json:"summary"`
	Themes        []string  `json:"themes"`
	Persons       []string  `json:"persons"`
	Places        []string  `json:"places"`
	UserSentiment Sentiment `json:"user_sentiment"`
	Timestamp     time.Time `json:"timestamp"`
}

// EmbeddingText builds the text that is embedded for semantic search over
// summaries. It concatenates the summary with its extracted facets so that
// entity and sentiment queries land too.
func (s *ConversationSummary) EmbeddingText() string {
	var b strings.Builder
	b.WriteString("Summary: ")
	b.WriteString(s.Summary)
	if len(s.Themes) > 0 {
		b.WriteString("\nThemes: ")
		b.WriteString(strings.Join(s.Themes, ", "))
	}
	if len(s.Persons) > 0 {
		b.WriteString("\nPersons: ")
		b.WriteString(strings.Join(s.Persons, ", "))
	}
	if len(s.Places) > 0 {
		b.WriteString("\nPlaces: ")
		b.WriteString(strings.Join(s.Places, ", "))
	}
	b.WriteString("\nSentiment: ")
	b.WriteString(string(s.UserSentiment))
	return b.String()
}

// SummarySearchResult pairs a summary with its relevance to a search query,
// normalized to [0,1].
type SummarySearchResult struct {
	ConversationSummary
	RelevanceScore float64 `json:"relevance_score"`
}

// UserProfile is the long-lived per-user memory bag. Every field is a list of
// short strings. One document per userId.
type UserProfile struct {
	UserID               string    `json:"userId"`
	OutputPreferences    []string  `json:"output_preferences"`
	PersonalPreferences  []string  `json:"personal_preferences"`
	AssistantPreferences []string  `json:"assistant_preferences"`
	Knowledge            []string  `json:"knowledge"`
	Interests            []string  `json:"interests"`
	Dislikes             []string  `json:"dislikes"`
	FamilyAndFriends     []string  `json:"family_and_friends"`
	WorkProfile          []string  `json:"work_profile"`
	Goals                []string  `json:"goals"`
	LastUpdated          time.Time `json:"last_updated"`
}

// ProfileUpdates carries the per-conversation profile deltas produced by
// extraction, merged into the stored UserProfile by the memory writer.
type ProfileUpdates struct {
	OutputPreferences    []string `json:"output_preferences"`
	PersonalPreferences  []string `json:"personal_preferences"`
	AssistantPreferences []string `json:"assistant_preferences"`
	Knowledge            []string `json:"knowledge"`
	Interests            []string `json:"interests"`
	Dislikes             []string `json:"dislikes"`
	FamilyAndFriends     []string `json:"family_and_friends"`
	WorkProfile          []string `json:"work_profile"`
	Goals                []string `json:"goals"`
}

// Extraction is the structured output of the memory extraction call.
type Extraction struct {
	Summary        string         `json:"summary"`
	Themes         []string       `json:"themes"`
	Persons        []string       `json:"persons"`
	Places         []string       `json:"places"`
	UserSentiment  string         `json:"user_sentiment"`
	ProfileUpdates ProfileUpdates `json:"profile_updates"`
}
