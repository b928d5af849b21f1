// Package config provides the configuration of onionscout.
//
// Values are layered: built-in defaults, then the YAML file (.onionscout),
// then the environment (.env and ONIONSCOUT_* variables), then command line
// flags. The file may also carry per-site cookies, headers and rate limits.
package config
