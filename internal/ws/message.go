package ws

import (
	"encoding/base64"
	"time"

	"vigil/internal/events"
	"vigil/internal/stage"
)

// AlertMessage represents an alert broadcast
type AlertMessage struct {
	Type      string        `json:"type"` // "alert"
	CameraID  int           `json:"camera_id"`
	Stage     string        `json:"stage"`
	Summary   stage.Summary `json:"summary"`
	Frame     string        `json:"frame,omitempty"` // Base64 encoded JPEG frame
	Timestamp time.Time     `json:"timestamp"`
}

// NewAlertMessage converts a bus event into its wire form
func NewAlertMessage(ev events.Event) *AlertMessage {
	msg := &AlertMessage{
		Type:      "alert",
		CameraID:  ev.CameraID,
		Stage:     ev.Stage,
		Summary:   ev.Summary,
		Timestamp: ev.Timestamp,
	}
	if len(ev.Frame) > 0 {
		msg.Frame = base64.StdEncoding.EncodeToString(ev.Frame)
	}
	return msg
}

// DecodeFrame returns the JPEG bytes carried by the message, nil when absent
func (m *AlertMessage) DecodeFrame() ([]byte, error) {
	if m.Frame == "" {
		return nil, nil
	}
	return base64.StdEncoding.DecodeString(m.Frame)
}
