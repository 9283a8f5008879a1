// Package classifier implements AI provider classification for payloads the
// heuristic detector is unsure about. The payload is condensed into a small
// summary before it is sent to the structured LLM client; raw bodies are
// never shipped wholesale.
package classifier
