package domain

import "context"

// ChatFunc is the narrow interface to a language model used by the optional
// LLM intent refiner. The full generation pipeline (streaming, tool calls,
// voice) lives outside this module and is consumed through this single
// function: prompt in, completion out.
type ChatFunc func(ctx context.Context, system, prompt string) (string, error)
