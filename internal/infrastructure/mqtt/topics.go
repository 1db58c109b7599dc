package mqtt

import (
	"fmt"
	"strings"
)

// Topic names shared by every sciler device and the back-end.
const (
	// TopicConnection carries {"connection": bool} envelopes.
	TopicConnection = "connection"

	// TopicStatus carries component status envelopes.
	TopicStatus = "status"

	// DefaultControlTopic is the instruction topic when none is configured.
	DefaultControlTopic = "test"
)

// Topics provides builders for device MQTT topics.
//
//	topics := mqtt.Topics{}
//	topics.Status()           // "status"
//	topics.Control("")        // "test"
//	topics.Control("scanner") // "scanner"
type Topics struct{}

// Connection returns the connection lifecycle topic.
func (Topics) Connection() string {
	return TopicConnection
}

// Status returns the status report topic.
func (Topics) Status() string {
	return TopicStatus
}

// Control returns the instruction topic for name, falling back to the default.
func (Topics) Control(name string) string {
	if name == "" {
		return DefaultControlTopic
	}
	return name
}

// ValidatePublishTopic rejects topics a client may not publish to:
// empty names, wildcards, and the reserved $ namespace.
func ValidatePublishTopic(topic string) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if strings.ContainsAny(topic, "+#") {
		return fmt.Errorf("%w: wildcards not allowed in publish topic %q", ErrInvalidTopic, topic)
	}
	if strings.HasPrefix(topic, "$") {
		return fmt.Errorf("%w: reserved topic %q", ErrInvalidTopic, topic)
	}
	return nil
}

// ValidateFilter checks a subscription filter. "+" must occupy a whole level
// and "#" is only allowed as the final level.
func ValidateFilter(filter string) error {
	if filter == "" {
		return ErrInvalidTopic
	}
	levels := strings.Split(filter, "/")
	for i, level := range levels {
		if strings.Contains(level, "#") && (level != "#" || i != len(levels)-1) {
			return fmt.Errorf("%w: misplaced # in %q", ErrInvalidTopic, filter)
		}
		if strings.Contains(level, "+") && level != "+" {
			return fmt.Errorf("%w: misplaced + in %q", ErrInvalidTopic, filter)
		}
	}
	return nil
}
