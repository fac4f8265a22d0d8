package mqtt

import (
	"fmt"
	"strings"
)

// Topic prefixes for the zigbridge MQTT surface.
//
// Device topics use the flat scheme: devices/{address}/{suffix}
// Gateway control topics live under gateway/.
const (
	// TopicPrefixDevices is the base for all per-device topics.
	TopicPrefixDevices = "devices"

	// TopicPrefixGateway is the base for gateway control and status topics.
	TopicPrefixGateway = "gateway"
)

// Topics provides builders for zigbridge MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	stateTopic := topics.DeviceAttribute("0x00124b0022a1f3c4", "temperature")
//	// Returns: "devices/0x00124b0022a1f3c4/temperature"
type Topics struct{}

// =============================================================================
// Device Topics
// =============================================================================

// DeviceAttribute returns the topic for a single device attribute value.
//
// Example: devices/0x00124b0022a1f3c4/temperature
func (Topics) DeviceAttribute(addr, attribute string) string {
	return fmt.Sprintf("%s/%s/%s", TopicPrefixDevices, addr, attribute)
}

// DeviceSet returns the topic external clients publish commands to.
//
// Example: devices/0x00124b0022a1f3c4/set
func (Topics) DeviceSet(addr string) string {
	return fmt.Sprintf("%s/%s/set", TopicPrefixDevices, addr)
}

// DeviceError returns the dead-letter topic for commands that could not be
// delivered to a device.
//
// Example: devices/0x00124b0022a1f3c4/error
func (Topics) DeviceError(addr string) string {
	return fmt.Sprintf("%s/%s/error", TopicPrefixDevices, addr)
}

// DeviceJoined returns the announcement topic for a newly paired device.
//
// Example: devices/0x00124b0022a1f3c4/joined
func (Topics) DeviceJoined(addr string) string {
	return fmt.Sprintf("%s/%s/joined", TopicPrefixDevices, addr)
}

// DeviceAvailability returns the per-device online/offline topic.
//
// Example: devices/0x00124b0022a1f3c4/availability
func (Topics) DeviceAvailability(addr string) string {
	return fmt.Sprintf("%s/%s/availability", TopicPrefixDevices, addr)
}

// =============================================================================
// Gateway Topics
// =============================================================================

// GatewayRequest returns the topic for control requests to the gateway
// (open_join, close_join, rename, list_devices, remove_device).
//
// Example: gateway/request
func (Topics) GatewayRequest() string {
	return fmt.Sprintf("%s/request", TopicPrefixGateway)
}

// GatewayResponse returns the topic for control request responses.
// Responses carry the request_id of the request they answer.
//
// Example: gateway/response
func (Topics) GatewayResponse() string {
	return fmt.Sprintf("%s/response", TopicPrefixGateway)
}

// GatewayStatus returns the gateway online/offline status topic.
// Also used as the LWT topic.
//
// Example: gateway/status
func (Topics) GatewayStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixGateway)
}

// GatewayJoin returns the topic announcing join window state changes.
//
// Example: gateway/join
func (Topics) GatewayJoin() string {
	return fmt.Sprintf("%s/join", TopicPrefixGateway)
}

// =============================================================================
// Wildcard Patterns for Subscriptions
// =============================================================================

// AllDeviceSets returns a pattern matching set commands for every device.
//
// Pattern: devices/+/set
func (Topics) AllDeviceSets() string {
	return fmt.Sprintf("%s/+/set", TopicPrefixDevices)
}

// AllDeviceAttributes returns a pattern matching all device topics.
// Use with caution - this receives ALL device traffic including set/error.
//
// Pattern: devices/#
func (Topics) AllDeviceAttributes() string {
	return fmt.Sprintf("%s/#", TopicPrefixDevices)
}

// =============================================================================
// Topic Parsing
// =============================================================================

// ParseDeviceSet extracts the device address from a devices/{addr}/set topic.
//
// Returns:
//   - string: The device address
//   - bool: false if the topic is not a set topic
func (Topics) ParseDeviceSet(topic string) (string, bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 || parts[0] != TopicPrefixDevices || parts[2] != "set" {
		return "", false
	}
	if parts[1] == "" {
		return "", false
	}
	return parts[1], true
}
