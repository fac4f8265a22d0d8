package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteAttribute records a single numeric attribute reading for a device.
//
// This is the primary method for recording sensor history. The write is
// non-blocking; data is batched and sent asynchronously.
//
// Parameters:
//   - addr: Device network address (e.g., "0x00124b0022a1f3c4")
//   - attribute: The attribute name (e.g., "temperature", "battery")
//   - value: The numeric value to record
//   - timestamp: When the reading was reported by the device
//
// Example:
//
//	client.WriteAttribute("0x00124b0022a1f3c4", "temperature", 21.5, report.Timestamp)
func (c *Client) WriteAttribute(addr string, attribute string, value float64, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"device_attributes",
		map[string]string{
			"addr":      addr,
			"attribute": attribute,
		},
		map[string]interface{}{
			"value": value,
		},
		timestamp,
	)

	c.writeAPI.WritePoint(point)
}

// WriteAvailability records a device availability transition.
//
// Recorded as 1 (online) or 0 (offline) so uptime can be charted
// alongside sensor readings.
//
// Parameters:
//   - addr: Device network address
//   - online: Whether the device transitioned to online
func (c *Client) WriteAvailability(addr string, online bool) {
	if !c.IsConnected() {
		return
	}

	value := 0.0
	if online {
		value = 1.0
	}

	point := write.NewPoint(
		"device_availability",
		map[string]string{
			"addr": addr,
		},
		map[string]interface{}{
			"online": value,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteLinkQuality records the radio link quality reported with a state update.
//
// Parameters:
//   - addr: Device network address
//   - lqi: Link quality indicator (0-255)
func (c *Client) WriteLinkQuality(addr string, lqi int) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"link_quality",
		map[string]string{
			"addr": addr,
		},
		map[string]interface{}{
			"lqi": lqi,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for custom measurements that don't fit the helper methods.
//
// Parameters:
//   - measurement: The measurement name (table)
//   - tags: Key-value pairs for indexing (low cardinality)
//   - fields: Key-value pairs for the actual data
//
// Example:
//
//	client.WritePoint("gateway_stats",
//	    map[string]string{"gateway": "zigbridge-001"},
//	    map[string]interface{}{"events_processed": 1523, "queue_depth": 4})
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}
