// Package agents implements the five specialized agents driven by the pipeline:
// specification, code, test generation, review and debugging.
//
// Every agent talks to a language model through the narrow ModelClient
// interface. Replies are expected to carry JSON; when a reply carries none, or
// the JSON does not match the expected shape, the agent derives its result
// deterministically from the request so a run always produces typed output.
//
// Agents are stateless after construction and safe for concurrent use.
package agents
