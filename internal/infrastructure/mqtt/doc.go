// Package mqtt provides the MQTT client infrastructure for zigbridge.
//
// It wraps paho.mqtt.golang with connection management, automatic
// re-subscription on reconnect, Last Will and Testament for gateway
// offline detection, and topic builders for the devices/ and gateway/
// namespaces.
package mqtt
