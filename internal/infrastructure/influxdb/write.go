package influxdb

import (
	"sort"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementStatus      = "device_status"
	MeasurementConnection  = "device_connection"
	MeasurementInstruction = "device_instruction"
)

// componentSeparator joins nested status keys into one component tag.
const componentSeparator = "."

// WriteStatus writes one device_status point per numeric or boolean
// component of a status mapping. Nested mappings are flattened with dotted
// component names; strings, lists and nulls are skipped.
//
// Numbers go to the "value" field and booleans to "state", so the two never
// conflict on field type.
func (c *Client) WriteStatus(deviceID string, status map[string]any, at time.Time) {
	if !c.IsConnected() {
		return
	}

	for _, p := range statusPoints(deviceID, status, at) {
		c.writeAPI.WritePoint(p)
	}
}

// WriteConnection records a connection announcement.
func (c *Client) WriteConnection(deviceID string, connected bool, at time.Time) {
	if !c.IsConnected() {
		return
	}

	c.writeAPI.WritePoint(write.NewPoint(
		MeasurementConnection,
		map[string]string{"device_id": deviceID},
		map[string]any{"connected": connected},
		at,
	))
}

// WriteInstruction records the outcome of an inbound instruction.
func (c *Client) WriteInstruction(topic string, failed bool, at time.Time) {
	if !c.IsConnected() {
		return
	}

	c.writeAPI.WritePoint(write.NewPoint(
		MeasurementInstruction,
		map[string]string{"topic": topic},
		map[string]any{"failed": failed},
		at,
	))
}

// WritePoint writes a custom point with full control over tags and fields.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any) {
	if !c.IsConnected() {
		return
	}

	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, time.Now()))
}

func statusPoints(deviceID string, status map[string]any, at time.Time) []*write.Point {
	var points []*write.Point

	var walk func(prefix string, m map[string]any)
	walk = func(prefix string, m map[string]any) {
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		for _, k := range keys {
			component := k
			if prefix != "" {
				component = prefix + componentSeparator + k
			}

			var fields map[string]any
			switch v := m[k].(type) {
			case map[string]any:
				walk(component, v)
				continue
			case bool:
				fields = map[string]any{"state": v}
			case float64:
				fields = map[string]any{"value": v}
			case float32:
				fields = map[string]any{"value": float64(v)}
			case int:
				fields = map[string]any{"value": float64(v)}
			case int64:
				fields = map[string]any{"value": float64(v)}
			default:
				continue
			}

			points = append(points, write.NewPoint(
				MeasurementStatus,
				map[string]string{"device_id": deviceID, "component": component},
				fields,
				at,
			))
		}
	}
	walk("", status)

	return points
}
