// Package sensors feeds physical line state into the node agent: a
// periph-backed pin reader and a polling edge detector that translates
// NC/NO circuit levels into trigger and restore signals.
package sensors
