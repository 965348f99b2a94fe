// Package notify dispatches alarm events to host-integration hooks:
// plain callbacks keyed by event type, with a structured-log hook and an
// optional MQTT publisher provided out of the box.
package notify
