package model

import (
	"encoding/json"
	"time"
)

// Message types carried in the transport envelope. Unrecognized types are
// ignored by the dispatcher.
const (
	TypeStatus         = "status"
	TypeClassification = "classification"
	TypeInitialData    = "initial_data"
	TypeAttackTimeline = "attack_timeline"
	TypeNetworkGraph   = "network_graph"
	TypeAlert          = "alert"
	TypeHealth         = "health"
	TypePing           = "ping"
	TypePong           = "pong"
)

// Severity is the classifier-assigned severity of an event.
type Severity string

const (
	SeverityNormal   Severity = "normal"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityNormal:   0,
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// ParseSeverity maps a wire value to a known severity. Absent or unknown
// values are treated as normal so a malformed event never raises an alert.
func ParseSeverity(s string) Severity {
	sev := Severity(s)
	if _, ok := severityRank[sev]; ok {
		return sev
	}
	return SeverityNormal
}

// Rank returns the ordering of a severity, normal lowest.
func (s Severity) Rank() int {
	return severityRank[s]
}

// AtLeast reports whether s is as severe as min.
func (s Severity) AtLeast(min Severity) bool {
	return s.Rank() >= min.Rank()
}

// ClassifiedEvent is one network observation annotated by the upstream ML
// classifier. Immutable once created; it ages out of the event buffer by
// capacity eviction and is never explicitly deleted. JSON tags follow the
// upstream simulation service's classification payload.
type ClassifiedEvent struct {
	ID                  int64     `json:"packet_id"`
	Timestamp           time.Time `json:"timestamp"`
	SourceEndpoint      string    `json:"source_ip"`
	DestinationEndpoint string    `json:"destination_ip"`
	Protocol            string    `json:"protocol"`
	SizeBytes           int64     `json:"packet_size"`
	PredictedLabel      string    `json:"predicted_class"`
	Confidence          float64   `json:"confidence"`
	AnomalyScore        float64   `json:"anomaly_score"`
	AttackType          string    `json:"attack_type,omitempty"`
	Severity            Severity  `json:"severity"`
}

// IsAttack reports whether the classifier labeled this event as an attack.
func (e ClassifiedEvent) IsAttack() bool {
	return e.AttackType != ""
}

// timestampFormats covers the shapes the upstream emits: RFC3339 with or
// without nanoseconds, and Python isoformat without a zone.
var timestampFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
}

// UnmarshalJSON decodes a classification payload, tolerating the upstream's
// zone-less timestamps. An unparseable timestamp falls back to receipt time.
func (e *ClassifiedEvent) UnmarshalJSON(data []byte) error {
	type alias ClassifiedEvent
	aux := struct {
		Timestamp string `json:"timestamp"`
		*alias
	}{alias: (*alias)(e)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	e.Timestamp = parseTimestamp(aux.Timestamp)
	return nil
}

func parseTimestamp(s string) time.Time {
	for _, layout := range timestampFormats {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Now().UTC()
}

// SimulationStatus is the authoritative snapshot owned by the upstream
// source. The local copy is advisory between snapshots and is replaced, not
// merged, whenever a fresh snapshot arrives.
type SimulationStatus struct {
	IsRunning       bool             `json:"is_running"`
	IsPaused        bool             `json:"is_paused"`
	CurrentPosition int64            `json:"current_row"`
	TotalPositions  int64            `json:"total_rows"`
	ProgressPercent float64          `json:"progress_percent"`
	PlaybackSpeed   float64          `json:"playback_speed"`
	AttackCounts    map[string]int64 `json:"attack_counts"`
}

// TimelineBucket aggregates event counts over one fixed time interval.
type TimelineBucket struct {
	BucketStart  time.Time `json:"bucket_start_time"`
	EventCount   int64     `json:"event_count"`
	AttackCount  int64     `json:"attack_count"`
	AnomalyCount int64     `json:"anomaly_count"`
}

// EndpointNode summarizes one endpoint observed in the current event window.
// RiskScore is attack_count / max(1, total_traffic), clamped to [0,1].
type EndpointNode struct {
	ID           string  `json:"id"`
	NormalCount  int64   `json:"normal_count"`
	AttackCount  int64   `json:"attack_count"`
	TotalTraffic int64   `json:"total_traffic"`
	RiskScore    float64 `json:"risk_score"`
}

// FlowEdge is one observed (source, destination) flow in the current window.
type FlowEdge struct {
	Source      string `json:"source"`
	Target      string `json:"target"`
	AttackType  string `json:"attack_type,omitempty"`
	PacketCount int64  `json:"packet_count"`
}

// NetworkGraph is a snapshot of the endpoint/flow topology. Nodes and edges
// absent from the current window are dropped on rebuild; the graph never
// accumulates stale entries.
type NetworkGraph struct {
	Nodes []EndpointNode `json:"nodes"`
	Edges []FlowEdge     `json:"edges"`
}

// AlertNotice is a transient banner raised for an attack-classified event.
// It self-expires after a fixed lifetime; recent notices are retained in a
// capped history for audit display.
type AlertNotice struct {
	ID             string    `json:"id"`
	AttackType     string    `json:"attack_type"`
	SourceEndpoint string    `json:"source_ip"`
	Severity       Severity  `json:"severity"`
	Timestamp      time.Time `json:"timestamp"`
}

// ServerStats is the aggregate statistics snapshot served by the upstream
// statistics endpoint. When present it supersedes locally computed
// distributions for that refresh cycle.
type ServerStats struct {
	TotalClassifications int64            `json:"total_classifications"`
	TotalAttacks         int64            `json:"total_attacks"`
	AttackRate           float64          `json:"attack_rate"`
	AttackCounts         map[string]int64 `json:"attack_counts"`
	ProtocolCounts       map[string]int64 `json:"protocol_distribution"`
	SeverityCounts       map[string]int64 `json:"severity_distribution"`
}

// ConnectionState describes the transport channel's lifecycle. Owned
// exclusively by the channel.
type ConnectionState int32

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateDegraded
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDegraded:
		return "degraded"
	default:
		return "disconnected"
	}
}

// Live reports whether the channel currently has a usable connection.
func (s ConnectionState) Live() bool {
	return s == StateConnected
}
