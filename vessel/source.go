package vessel

import "time"

// Transport identifies how a source delivers sentences.
type Transport string

const (
	TransportTCP    Transport = "tcp"
	TransportUDP    Transport = "udp"
	TransportSerial Transport = "serial"
	TransportFile   Transport = "file"
)

// Status is the lifecycle state of a source.
type Status string

const (
	StatusCreated  Status = "created"
	StatusActive   Status = "active"
	StatusPaused   Status = "paused"
	StatusDisabled Status = "disabled"
	StatusDeleted  Status = "deleted"
)

// DefaultSpoofLimitKm applies to sources that never had a limit set.
const DefaultSpoofLimitKm = 500.0

// SourceConfig carries the transport parameters.
type SourceConfig struct {
	Host       string `json:"host,omitempty"`
	Port       int    `json:"port,omitempty"`
	SerialPort string `json:"serial_port,omitempty"`
	BaudRate   int    `json:"baud_rate,omitempty"`
	FilePath   string `json:"file_path,omitempty"`
	FileSize   int64  `json:"file_size,omitempty"`
}

// Source is one ingest connection with its counters and policy knobs.
type Source struct {
	ID                   string       `json:"source_id"`
	Name                 string       `json:"name"`
	Transport            Transport    `json:"source_type"`
	Config               SourceConfig `json:"config"`
	Status               Status       `json:"status"`
	LastError            string       `json:"last_error,omitempty"`
	CreatedAt            time.Time    `json:"created_at"`
	LastMessage          time.Time    `json:"last_message,omitempty"`
	MessageCount         int64        `json:"message_count"`
	TargetCount          int64        `json:"target_count"`
	FragmentCount        int64        `json:"fragment_count"`
	DecodeErrors         int64        `json:"decode_errors"`
	ChecksumErrors       int64        `json:"checksum_errors"`
	MessageLimit         int          `json:"message_limit"`
	TargetLimit          int          `json:"target_limit"`
	SpoofLimitKm         float64      `json:"spoof_limit_km"`
	KeepNonVesselTargets bool         `json:"keep_non_vessel_targets"`
	ProcessingComplete   bool         `json:"processing_complete"`
}
