// Package config defines the YAML settings consumed by the alarm binaries
// and provides helpers to load and validate them.
//
// NodeSettings configures one alarm-node agent (identity, transports,
// timing, sensors); CentralSettings configures the central server
// (listeners, tolerances, journal, hooks, client credentials). Timing
// values are plain seconds in YAML with duration accessors for callers.
package config
