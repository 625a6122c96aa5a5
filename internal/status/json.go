package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string           `json:"event,omitempty"`
	Reason        string           `json:"reason,omitempty"`
	Speed         int              `json:"speed"`
	Direction     string           `json:"direction"`
	Target        int              `json:"target"`
	Ramping       bool             `json:"ramping"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	StartTime     string           `json:"start_time"`
	Timestamp     string           `json:"timestamp"`
	MQTT          MQTTStatus       `json:"mqtt"`
	Counts        CountsJSON       `json:"event_counts"`
	LastCommand   *LastCommandJSON `json:"last_command,omitempty"`
	Network       *NetworkJSON     `json:"network,omitempty"`
	Config        ConfigJSON       `json:"config"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// CountsJSON is the JSON representation of event counts.
type CountsJSON struct {
	SpeedSet int `json:"speed_set"`
	Stop     int `json:"stop"`
	Reverse  int `json:"reverse"`
}

// LastCommandJSON is the JSON representation of the most recent command result.
type LastCommandJSON struct {
	ID        string `json:"cmd_id,omitempty"`
	Kind      string `json:"kind"`
	Speed     int    `json:"speed"`
	Source    string `json:"source,omitempty"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	Timestamp string `json:"timestamp"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	MaxSpeed    int    `json:"max_speed"`
	StepMs      int64  `json:"step_ms"`
	BrakeMs     int64  `json:"brake_ms"`
	FrequencyHz int    `json:"frequency_hz"`
	ChannelA    int    `json:"channel_a"`
	ChannelB    int    `json:"channel_b"`
	HeartbeatMs int64  `json:"heartbeat_ms"`
	Broker      string `json:"broker"`
	HTTPAddr    string `json:"http_addr"`
}

func buildInner(snap Snapshot) StatusInner {
	dir := string(snap.Direction)
	if dir == "" {
		dir = "STOPPED"
	}

	return StatusInner{
		Speed:         snap.Speed,
		Direction:     dir,
		Target:        snap.Target,
		Ramping:       snap.Ramping,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Counts: CountsJSON{
			SpeedSet: snap.Counts.SpeedSet,
			Stop:     snap.Counts.Stop,
			Reverse:  snap.Counts.Reverse,
		},
		Config: ConfigJSON{
			MaxSpeed:    snap.Config.MaxSpeed,
			StepMs:      snap.Config.StepMs,
			BrakeMs:     snap.Config.BrakeMs,
			FrequencyHz: snap.Config.FrequencyHz,
			ChannelA:    snap.Config.ChannelA,
			ChannelB:    snap.Config.ChannelB,
			HeartbeatMs: snap.Config.HeartbeatMs,
			Broker:      snap.Config.Broker,
			HTTPAddr:    snap.Config.HTTPAddr,
		},
	}
}

func buildOptional(snap Snapshot, inner *StatusInner) {
	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Type:       snap.Network.Type,
			IP:         snap.Network.IP,
			Status:     snap.Network.Status,
			Gateway:    snap.Network.Gateway,
			WifiStatus: snap.Network.WifiStatus,
			SSID:       snap.Network.SSID,
		}
	}
	if lc := snap.LastCommand; lc != nil {
		inner.LastCommand = &LastCommandJSON{
			ID:        lc.ID,
			Kind:      lc.Kind,
			Speed:     lc.Speed,
			Source:    lc.Source,
			Status:    lc.Status,
			Error:     lc.Error,
			Timestamp: lc.At.UTC().Format(time.RFC3339),
		}
	}
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	inner := buildInner(snap)
	buildOptional(snap, &inner)

	data, _ := json.MarshalIndent(StatusJSON{Status: inner}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason
	buildOptional(snap, &inner)

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
