package queue

import (
	"fmt"
	"strings"
)

// BatchMessage is the broker payload that triggers dispatch of one broadcast batch.
type BatchMessage struct {
	BatchID       string `json:"batchId"`
	BroadcastID   string `json:"broadcastId"`
	CorrelationID string `json:"correlationId,omitempty"`
	// Generation is the batch retry count at publish time; 0 for first dispatch.
	Generation int `json:"generation"`
}

func (m BatchMessage) Validate() error {
	if strings.TrimSpace(m.BatchID) == "" {
		return fmt.Errorf("batchId is required")
	}
	if strings.TrimSpace(m.BroadcastID) == "" {
		return fmt.Errorf("broadcastId is required")
	}
	if m.Generation < 0 {
		return fmt.Errorf("invalid generation %d", m.Generation)
	}
	return nil
}
