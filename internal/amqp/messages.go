package amqp

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"backoffice/internal/core"
)

// OwnerNotificationMessage asks the worker to archive and email the owner
// statement of one property-month. The worker reloads everything else.
type OwnerNotificationMessage struct {
	ID         string    `json:"id"`
	PropertyID string    `json:"propertyId"`
	Year       int       `json:"year"`
	Month      int       `json:"month"`
	Timestamp  time.Time `json:"timestamp"`
}

func NewOwnerNotificationMessage(key core.PropertyMonth) *OwnerNotificationMessage {
	return &OwnerNotificationMessage{
		ID:         uuid.NewString(),
		PropertyID: key.PropertyID,
		Year:       key.Year,
		Month:      key.Month,
		Timestamp:  time.Now(),
	}
}

func (m *OwnerNotificationMessage) Key() core.PropertyMonth {
	return core.PropertyMonth{PropertyID: m.PropertyID, Year: m.Year, Month: m.Month}
}

func (m *OwnerNotificationMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// OwnerNotificationMessageFromJSON decodes and validates a message body.
func OwnerNotificationMessageFromJSON(data []byte) (*OwnerNotificationMessage, error) {
	var msg OwnerNotificationMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if err := msg.Key().Validate(); err != nil {
		return nil, err
	}
	return &msg, nil
}
