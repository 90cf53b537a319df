// Package responder generates replies to forwarded user questions. Two
// backends are provided: HTTPResponder posts to an external question-answer
// API, AnthropicResponder calls the Anthropic Messages API directly. Both
// receive the recent conversation history so answers stay coherent across
// turns.
package responder
