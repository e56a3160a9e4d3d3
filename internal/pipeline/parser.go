package pipeline

// OutputParser turns raw backend output into response text. It is applied to
// complete answers and to each streamed fragment.
type OutputParser interface {
	Parse(raw string) (string, error)
}

// StrOutput passes backend text through unchanged.
type StrOutput struct{}

func (StrOutput) Parse(raw string) (string, error) { return raw, nil }
