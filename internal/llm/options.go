package llm

// CompletionOption is a functional option for configuring completion requests.
type CompletionOption func(*CompletionRequest)

// WithTemperature sets the sampling temperature (0.0 - 1.0).
func WithTemperature(temperature float64) CompletionOption {
	return func(req *CompletionRequest) {
		req.Temperature = temperature
	}
}

// WithMaxTokens limits the length of the response.
func WithMaxTokens(maxTokens int) CompletionOption {
	return func(req *CompletionRequest) {
		req.MaxTokens = maxTokens
	}
}

// WithJSONMode asks providers that support it to emit a bare JSON object.
func WithJSONMode() CompletionOption {
	return func(req *CompletionRequest) {
		req.JSONMode = true
	}
}

// WithMetadataOption attaches metadata to the request, e.g. the finding ID.
func WithMetadataOption(key string, value any) CompletionOption {
	return func(req *CompletionRequest) {
		if req.Metadata == nil {
			req.Metadata = make(map[string]any)
		}
		req.Metadata[key] = value
	}
}

// ApplyOptions applies opts to req in order.
func ApplyOptions(req *CompletionRequest, opts ...CompletionOption) {
	for _, opt := range opts {
		opt(req)
	}
}
