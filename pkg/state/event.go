package state

import "time"

type EventType string

const (
	EventTypeAction     EventType = "action"
	EventTypeReaction   EventType = "reaction"
	EventTypeAutonomous EventType = "autonomous"
	EventTypeNews       EventType = "news"
	EventTypeSystem     EventType = "system"
)

type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNegative Sentiment = "negative"
	SentimentNeutral  Sentiment = "neutral"
)

// GameEvent is one entry of the append-only event log. ID and Timestamp are
// assigned at ingestion, never taken from the model.
type GameEvent struct {
	ID        string        `json:"id"`
	Timestamp time.Time     `json:"timestamp"`
	Turn      int           `json:"turn"`
	Type      EventType     `json:"type"`
	ActorID   string        `json:"actorId,omitempty"`
	ActorName string        `json:"actorName,omitempty"`
	Content   string        `json:"content"`
	Sentiment Sentiment     `json:"sentiment,omitempty"`
	MediaType string        `json:"mediaType,omitempty"`
	Media     *MediaContent `json:"media,omitempty"`
	Impact    *Impact       `json:"impact,omitempty"`
}

// MediaContent is presentation payload attached to an event (a post, a
// headline, a broadcast). The engine passes it through untouched.
type MediaContent struct {
	Headline string `json:"headline,omitempty"`
	Body     string `json:"body,omitempty"`
	Author   string `json:"author,omitempty"`
	Platform string `json:"platform,omitempty"`
	URL      string `json:"url,omitempty"`
}

type Impact struct {
	Description       string         `json:"description,omitempty"`
	AffectedActors    []string       `json:"affectedActors,omitempty"`
	WorldStateChanges map[string]any `json:"worldStateChanges,omitempty"`
}
