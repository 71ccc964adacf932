// Package config loads and watches the patientwatch configuration file.
//
// Top-level sections:
//   - api: base_url, timeout, auth (apikey|bearer|none, key read from the
//     environment variable named by key_env), tls
//   - collector: page_size, stagger_interval, max_concurrent_page_fetches,
//     stale_duration, retry (server_error_attempts, server_error_delay,
//     rate_limit_padding, rate_limit_fallback_initial, rate_limit_fallback_max)
//   - scoring: table (clinical|assessment)
//   - server: http_port, broadcast_interval, auth
//   - alerts: rules and webhooks
//   - submit: enabled, path
//   - log: level, format
//
// Load(path) applies defaults, parses YAML, then applies PATIENTWATCH_*
// environment overrides through envconfig and validates. PATIENTWATCH_API_URL
// plus PATIENTWATCH_API_URL_PREFIX may be used instead of API_BASE_URL.
//
// Watch(ctx, path, log, onChange) uses fsnotify to detect file changes and
// calls onChange with the newly parsed Config. The watch is re-added after
// every event to survive atomic-save editors.
package config
