// Package node implements the node runtime and manager: the authoritative
// registry of greenhouse nodes, each owning one environment simulation plus
// actuator state and sampling interval.
package node

import "github.com/vebjomy/greenhouse-server/environment"

// Node is the immutable-except-by-patch configuration of one greenhouse
// compartment. ID is server-assigned and never changes after creation.
type Node struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Location  string   `json:"location"`
	IP        string   `json:"ip"`
	Sensors   []string `json:"sensors"`
	Actuators []string `json:"actuators"`
}

// Draft is the client-supplied shape for create_node: everything Node has
// except the server-assigned ID.
type Draft struct {
	Name      string   `json:"name"`
	Location  string   `json:"location"`
	IP        string   `json:"ip"`
	Sensors   []string `json:"sensors"`
	Actuators []string `json:"actuators"`
}

// Patch carries the fields update_node may change. A nil field means "leave
// unchanged"; Sensors/Actuators are replaced wholesale when present, never
// merged.
type Patch struct {
	Name      *string
	Location  *string
	IP        *string
	Sensors   *[]string
	Actuators *[]string
}

// Snapshot is the insertion-ordered sensor/actuator reading for one node.
// Field declaration order is preserved by encoding/json, which is what keeps
// the wire key order stable.
type Snapshot struct {
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
	Light       int     `json:"light"`
	PH          float64 `json:"ph"`
	Fan         string  `json:"fan"`
	WaterPump   string  `json:"water_pump"`
	CO2         string  `json:"co2"`
	Window      string  `json:"window"`
}

func boolState(on bool) string {
	if on {
		return "ON"
	}
	return "OFF"
}

func snapshotFrom(env environment.State, fanOn, pumpOn, co2On bool, window environment.Window) Snapshot {
	return Snapshot{
		Temperature: round2(env.TemperatureC),
		Humidity:    round2(env.HumidityPct),
		Light:       int(env.LightLux),
		PH:          round2(env.PH),
		Fan:         boolState(fanOn),
		WaterPump:   boolState(pumpOn),
		CO2:         boolState(co2On),
		Window:      string(window),
	}
}

func round2(v float64) float64 {
	return float64(int(v*100+sign(v)*0.5)) / 100
}

func sign(v float64) float64 {
	if v < 0 {
		return -1
	}
	return 1
}

// ChangeEvent is the domain-level event the Manager hands to its onChange
// hook; the caller (the Server Listener's wiring) translates this into the
// wire-level node_change message and broadcasts it via the Client Registry.
type ChangeEvent struct {
	Op     string // "added", "updated", "removed"
	NodeID string
	Node   *Node // nil for "removed"
}
