package ingest

import "time"

// Message is one telemetry payload published on a plant's data topic.
//
// DeviceID is the plant-scoped device identifier (e.g. INV_3), Timestamp the
// device-side measurement time, Values a reading per tag name.
type Message struct {
	DeviceID  string             `json:"deviceId"`
	Timestamp time.Time          `json:"timestamp"`
	Values    map[string]float64 `json:"values"`
}

// Measurement is one stored reading for a device tag at an instant.
type Measurement struct {
	DeviceID   string    `json:"device_id"`
	Tag        string    `json:"tag"`
	Timestamp  time.Time `json:"timestamp"`
	Value      float64   `json:"value"`
	ReceivedAt time.Time `json:"received_at"`
}

// Result classifies what happened to one inbound message.
type Result string

// Ingest outcomes.
const (
	ResultStored    Result = "stored"
	ResultDuplicate Result = "duplicate"
	ResultRejected  Result = "rejected"
)
