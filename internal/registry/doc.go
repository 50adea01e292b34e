// Package registry announces uploaded manifests to downstream consumers.
//
// The Registrar is a stage classifier over manifests/uploaded. For every
// manifest it builds a Registration, hands it to an Announcer, and only then
// moves the document to manifests/registered, where the sweeper picks it up.
// LogAnnouncer writes the announcement to the structured log; KafkaAnnouncer
// publishes it as a JSON message keyed by manifest ID.
package registry
