package emit

import (
	"strings"

	"github.com/evanw/esbuild/pkg/api"

	"github.com/ritzau/tswatch/pkg/registry"
	"github.com/ritzau/tswatch/pkg/tsconfig"
	"github.com/ritzau/tswatch/pkg/tspath"
)

// Output is the generated code for one input file.
type Output struct {
	Code []byte
	Map  []byte
}

// Generator turns one source file into JavaScript.
type Generator interface {
	Generate(sf *registry.SourceFile, opts tsconfig.Options) (Output, error)
}

// Message is a generator error located in the input file.
type Message struct {
	Line   int
	Column int
	Text   string
}

// GenerateError carries every message of a failed generation.
type GenerateError struct {
	Messages []Message
}

func (e *GenerateError) Error() string {
	texts := make([]string, len(e.Messages))
	for i, m := range e.Messages {
		texts[i] = m.Text
	}
	return strings.Join(texts, "; ")
}

// ESBuild generates code with esbuild's transform API. Each file is
// transformed on its own; nothing is bundled.
type ESBuild struct{}

var _ Generator = ESBuild{}

func loaderFor(fileName string) api.Loader {
	switch tspath.Extension(fileName) {
	case ".tsx":
		return api.LoaderTSX
	case ".js":
		return api.LoaderJS
	case ".jsx":
		return api.LoaderJSX
	default:
		return api.LoaderTS
	}
}

func formatFor(sf *registry.SourceFile, opts tsconfig.Options) api.Format {
	if sf.IsGlobal || opts.Bundle() != "" {
		return api.FormatDefault
	}
	switch opts.Module {
	case "es6", "es2015", "esnext":
		return api.FormatESModule
	case "amd", "system", "umd":
		// no esbuild equivalent; module syntax is kept
		return api.FormatDefault
	default:
		return api.FormatCommonJS
	}
}

func targetFor(opts tsconfig.Options) api.Target {
	switch opts.Target {
	case "es6", "es2015":
		return api.ES2015
	case "es2016":
		return api.ES2016
	case "es2017":
		return api.ES2017
	case "esnext":
		return api.ESNext
	default:
		return api.ES5
	}
}

// Generate implements Generator. esbuild cannot lower every construct to
// ES5; such files fall back to ES2015 output.
func (ESBuild) Generate(sf *registry.SourceFile, opts tsconfig.Options) (Output, error) {
	transform := func(target api.Target) api.TransformResult {
		to := api.TransformOptions{
			Loader:     loaderFor(sf.FileName),
			Format:     formatFor(sf, opts),
			Target:     target,
			Sourcefile: sf.FileName,
		}
		if opts.SourceMap {
			to.Sourcemap = api.SourceMapExternal
		}
		return api.Transform(string(sf.Content), to)
	}

	target := targetFor(opts)
	res := transform(target)
	if len(res.Errors) > 0 && target == api.ES5 {
		log.Debug("Falling back to ES2015 output", "file", sf.FileName, "reason", res.Errors[0].Text)
		res = transform(api.ES2015)
	}
	if len(res.Errors) > 0 {
		return Output{}, toGenerateError(res.Errors)
	}
	return Output{Code: res.Code, Map: res.Map}, nil
}

func toGenerateError(msgs []api.Message) error {
	ge := &GenerateError{}
	for _, m := range msgs {
		msg := Message{Text: m.Text, Line: 1, Column: 1}
		if m.Location != nil {
			msg.Line = m.Location.Line
			msg.Column = m.Location.Column + 1
		}
		ge.Messages = append(ge.Messages, msg)
	}
	return ge
}
