package feed

import "strings"

const topicPrefix = "tick."

// TickMessage is one push from the live tick feed.
type TickMessage struct {
	Topic string     `json:"topic"` // "tick.<instrument name>"
	Data  []TickData `json:"data"`
	Ts    int64      `json:"ts"` // send time, unix milliseconds
}

// TickData is a single quote or trade.
type TickData struct {
	Kind      string  `json:"kind"` // BID, ASK or TRADE
	Ts        int64   `json:"ts"`   // event time, unix microseconds
	Price     float64 `json:"price"`
	Size      int64   `json:"size"`
	Condition string  `json:"cond,omitempty"`
	Exchange  string  `json:"exch,omitempty"`
}

// SubscribeRequest is sent after every (re)connect.
type SubscribeRequest struct {
	Op   string   `json:"op"`
	Args []string `json:"args"`
}

// Topic returns the subscription topic of an instrument.
func Topic(instrument string) string {
	return topicPrefix + instrument
}

// IsTickTopic returns true if the topic string is a tick stream.
func IsTickTopic(topic string) bool {
	return strings.HasPrefix(topic, topicPrefix)
}

// InstrumentFromTopic parses the instrument from a topic like "tick.ESH3 Index".
func InstrumentFromTopic(topic string) string {
	if !IsTickTopic(topic) {
		return ""
	}
	return strings.TrimPrefix(topic, topicPrefix)
}
