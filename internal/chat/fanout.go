package chat

import (
	"encoding/json"
	"time"
)

// deliver encodes an outbound event once and enqueues it on every target
// connection. Slow peers are skipped, not waited on; the count of
// successful enqueues is returned.
func deliver(clients []*Client, out Outbound) int {
	payload, err := json.Marshal(out)
	if err != nil {
		return 0
	}
	return deliverRaw(clients, payload)
}

func deliverRaw(clients []*Client, payload []byte) int {
	sent := 0
	for _, c := range clients {
		if c.enqueue(payload) {
			sent++
		}
	}
	return sent
}

// systemNotice builds the non-persisted "System" chat message used for
// join/leave announcements.
func systemNotice(text string) Outbound {
	return Outbound{
		Type: EvChatMessage,
		Message: &Message{
			From:      UserRef{Username: "System"},
			Content:   text,
			CreatedAt: time.Now().UTC(),
		},
	}
}
