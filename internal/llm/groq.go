package llm

const groqAPIURL = "https://api.groq.com/openai/v1"

// NewGroqClient creates a new Groq API client. Groq serves an OpenAI-compatible API.
func NewGroqClient(apiKey, model string) Client {
	return NewOpenAICompatibleClient(apiKey, groqAPIURL, model)
}
