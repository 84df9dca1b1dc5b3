// Package llm provides the llm.complete task, backed by an LLM provider.
//
// Currently supports:
//   - Anthropic Claude
package llm
