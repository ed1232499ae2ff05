// Package gemini provides the generate_text task handler, which sends a
// prompt to Google's Gemini API and stores the generated text as the task
// result.
//
// Payloads are JSON objects:
//
//	{"prompt": "...", "temperature": 0.2, "max_output_tokens": 512}
//
// and results have the form {"text": "...", "model": "..."}.
package gemini
