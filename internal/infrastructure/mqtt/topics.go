package mqtt

import (
	"fmt"
	"strings"
)

// TopicPrefix is the root of every topic the service uses.
const TopicPrefix = "hasnapshot"

// Topics builds the service's MQTT topics.
//
//	hasnapshot/system/status            retained online/offline status (LWT)
//	hasnapshot/service/{service}        inbound service calls
//	hasnapshot/event/{service}          run results
//	hasnapshot/notification             persistent notifications
type Topics struct{}

// SystemStatus returns the retained status topic.
func (Topics) SystemStatus() string {
	return TopicPrefix + "/system/status"
}

// Service returns the inbound call topic for a service name.
func (Topics) Service(service string) string {
	return fmt.Sprintf("%s/service/%s", TopicPrefix, service)
}

// AllServices matches every inbound service call topic.
func (Topics) AllServices() string {
	return TopicPrefix + "/service/+"
}

// Event returns the topic run results of a service are published to.
func (Topics) Event(service string) string {
	return fmt.Sprintf("%s/event/%s", TopicPrefix, service)
}

// Notification returns the notification topic.
func (Topics) Notification() string {
	return TopicPrefix + "/notification"
}

// ServiceFromTopic extracts the service name from a service call topic.
func ServiceFromTopic(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, TopicPrefix+"/service/")
	if !ok || rest == "" || strings.Contains(rest, "/") {
		return "", false
	}
	return rest, true
}
