// Package autoload registers every built-in LLM provider.
package autoload

import (
	_ "airose/pkg/llm/gemini"
	_ "airose/pkg/llm/ollama"
	_ "airose/pkg/llm/openailm"
)
