package ai

// Provider names accepted by Config.Provider.
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
	ProviderMock   = "mock"
)

// Providers lists the supported provider names.
var Providers = []string{
	ProviderOpenAI,
	ProviderGemini,
	ProviderMock,
}
