// Package journal records pipeline activity in a SQLite database.
//
// The journal is an audit trail: every transition and every tick is appended
// so operators can answer "what happened to this file" and `stagehand status`
// can show recent ticks. Stage directories remain the only state the pipeline
// consults when deciding what to do next; losing the journal loses history,
// never files.
package journal
