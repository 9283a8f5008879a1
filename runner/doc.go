// Package runner executes routed actions. Each routing decision carries a
// handler mode; the runner dispatches on it: noop acknowledges, command runs
// a registered argv with the event on stdin, agent shells out to a prompt
// runner under a wall-clock timeout, and llm asks a structured LLM client
// to produce the action arguments.
package runner
