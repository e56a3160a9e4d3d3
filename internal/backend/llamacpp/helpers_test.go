package llamacpp

import "chatgw/internal/pipeline"

func promptFor(text string) pipeline.Prompt {
	return pipeline.Prompt{Messages: []pipeline.Message{
		{Role: pipeline.RoleSystem, Content: "sys"},
		{Role: pipeline.RoleHuman, Content: text},
	}}
}

func paramsFor() pipeline.Params { return pipeline.Params{Model: "tiny", Temperature: 0.2} }
