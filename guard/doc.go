// Package guard filters proposed agent actions through an ordered pipeline
// of safety stages before execution. The pipeline never fails: problems
// shrink the tool list, and every suppression is recorded in the result's
// warnings and dropped-tool lists for telemetry. It sits on the critical
// path of user-facing responses, so it favors "silently do less" over
// aborting.
//
// One Pipeline instance owns all cross-step state (message dedup windows,
// the per-action reassurance allowance, compiled rule patterns). Construct
// a fresh instance per test for deterministic behavior.
//
// # Memory conventions
//
// Several stages inspect Context.Memory, the recent memory entries the
// decision loop recorded for the current action. Entries are ordered oldest
// first, and keys are namespaced under Context.ActionPrefix:
//
//	<prefix>step:<n>:tool:<name>   a tool executed at step n
//	<prefix>search:<n>             a search attempt; Content is the query
//	<prefix>image:<n>              an image generated this action
//
// The pipeline relies only on the prefix and the "tool:", "search:" and
// "image:" markers, not on the step numbers.
package guard
