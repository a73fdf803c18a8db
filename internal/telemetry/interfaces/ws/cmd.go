package ws

// SubscriptionCmd is the header shared by every client command.
type SubscriptionCmd struct {
	CmdID       int    `json:"cmdId"`
	DeviceID    string `json:"deviceId"`
	Keys        string `json:"keys,omitempty"`
	Unsubscribe bool   `json:"unsubscribe,omitempty"`
}

// AttributesSubscriptionCmd subscribes to a device's attributes.
type AttributesSubscriptionCmd struct {
	SubscriptionCmd
}

// TimeseriesSubscriptionCmd subscribes to time series. TimeWindow is in
// milliseconds; 0 asks for the latest value of each key only.
type TimeseriesSubscriptionCmd struct {
	SubscriptionCmd
	TimeWindow int64 `json:"timeWindow,omitempty"`
}

// GetHistoryCmd is a one-shot closed range query.
type GetHistoryCmd struct {
	SubscriptionCmd
	StartTS int64 `json:"startTs"`
	EndTS   int64 `json:"endTs"`
}

// CmdsWrapper is the envelope of one inbound text message.
type CmdsWrapper struct {
	AttrSubCmds []AttributesSubscriptionCmd `json:"attrSubCmds,omitempty"`
	TsSubCmds   []TimeseriesSubscriptionCmd `json:"tsSubCmds,omitempty"`
	HistoryCmds []GetHistoryCmd             `json:"historyCmds,omitempty"`
}

// MessageType distinguishes websocket frame payloads.
type MessageType int

const (
	TextMessage MessageType = iota + 1
	BinaryMessage
)

// Message is one inbound frame.
type Message struct {
	Type    MessageType
	Payload []byte
}
