// Package notifications delivers pipeline events via pluggable notifiers.
//
// The default implementation publishes to ntfy using the topic configured in
// config.toml and gracefully degrades to a no-op when notifications are
// disabled. Events cover the moments an operator cares about: an entry given
// up on, a manifest batch written, a stage tick failing. Per-event toggles in
// the [notifications] section suppress the noisy ones.
package notifications
