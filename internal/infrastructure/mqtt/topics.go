package mqtt

import "strings"

// DefaultTopicPrefix is used when the configured prefix is empty.
const DefaultTopicPrefix = "scadahub"

// segmentReplacer percent-encodes the characters that would change the
// topic hierarchy or act as wildcards in a controller name. "%" itself is
// encoded too, so the mapping is reversible with url.PathUnescape and two
// distinct names never share a topic.
var segmentReplacer = strings.NewReplacer("%", "%25", "/", "%2F", "+", "%2B", "#", "%23")

// Topics builds the hub's MQTT topics under a common prefix.
//
//	topics := mqtt.NewTopics("plant-a")
//	topics.ControllerState("controller 1")
//	// Returns: "plant-a/controller/controller 1/state"
type Topics struct {
	prefix string
}

// NewTopics returns topic builders rooted at prefix. Trailing slashes are
// ignored.
func NewTopics(prefix string) Topics {
	prefix = strings.TrimRight(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{prefix: prefix}
}

// Prefix returns the root of every topic.
func (t Topics) Prefix() string {
	return t.prefix
}

// ControllerState returns the topic carrying a controller's telemetry.
//
// Example: scadahub/controller/controller 1/state
func (t Topics) ControllerState(name string) string {
	return t.prefix + "/controller/" + topicSegment(name) + "/state"
}

// AllControllerStates returns a subscription filter matching every
// controller's telemetry topic.
func (t Topics) AllControllerStates() string {
	return t.prefix + "/controller/+/state"
}

// SystemStatus returns the retained online/offline status topic. It also
// carries the Last Will.
//
// Example: scadahub/system/status
func (t Topics) SystemStatus() string {
	return t.prefix + "/system/status"
}

func topicSegment(name string) string {
	return segmentReplacer.Replace(name)
}
