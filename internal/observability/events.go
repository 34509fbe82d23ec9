package observability

// EventEnvelope is the JSON body published to the broker for lifecycle
// events: session connects and disconnects, stale-session reclaims.
type EventEnvelope struct {
	EventType string      `json:"event_type"`
	EventName string      `json:"event_name"`
	Payload   interface{} `json:"payload"`
}

// BuildHeaders carries request correlation into published events. Empty
// values are omitted so consumers can rely on header presence.
func BuildHeaders(requestID, traceID string) map[string]string {
	headers := map[string]string{}
	if requestID != "" {
		headers["x-request-id"] = requestID
	}
	if traceID != "" {
		headers["trace_id"] = traceID
	}
	return headers
}
