// Package config handles configuration loading for chatsync.
//
// # Overview
//
// Configuration is loaded from YAML (default) or TOML (".toml" extension)
// files with environment variable expansion. Anything missing from the file
// keeps the value from Default().
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	api:
//	  base_url: "${CHATSYNC_API_URL}"
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	broker:
//	  connect_timeout: "10s"
//	  reconnect_max_delay: "30s"
//
// # Sections
//
//   - broker: URL (ws, wss, tcp, stomp or memory scheme), timeouts,
//     heart-beats, reconnect policy and destination templates
//   - api: REST collaborator base URL, timeout and retry count
//   - unread: badge refresh interval and the grace delay after opening a
//     conversation
//   - ui: transient notice lifetime and maximum message length
//   - logging: level (debug, info, warn, error) and format (text, json)
//   - metrics: optional Prometheus endpoint
package config
