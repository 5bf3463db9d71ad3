package util

// Envelope is the JSON body shape of every API response.
type Envelope map[string]any

func Error(message string) Envelope {
	return Envelope{"error": message}
}

// Issues is an error envelope that also lists per-field problems.
func Issues(message string, issues any) Envelope {
	return Envelope{"error": message, "issues": issues}
}

func Data(key string, value any) Envelope {
	return Envelope{key: value}
}
