// Package engine runs a task definition end to end.
//
// A run executes the prologue once, then the repeated step list once per
// eligible recipient, then the epilogue. Between those phases the engine:
//   - filters blacklisted and unsubscribed recipients
//   - enforces the per-run and daily caps and the run duration budget
//   - paces recipients with a randomized interval
//   - persists a checkpoint after every completed step
//   - isolates recipient failures and escalates failure streaks
//
// Every run produces a report, however it ends.
package engine
