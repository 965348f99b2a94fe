// Package alarm contains core domain types for the alarm business logic.
//
// It defines the event vocabulary (EventType, Event), the Sensor input
// model, and Machine, the disarm/breach state machine that runs on the
// node and is mirrored per client on the central server.
package alarm
