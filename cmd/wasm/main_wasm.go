//go:build js && wasm

package main

import (
	"encoding/json"
	"errors"
	"syscall/js"
	"time"

	"github.com/skillre/mindmap-qoder/internal/codec"
	"github.com/skillre/mindmap-qoder/internal/naming"
	"github.com/skillre/mindmap-qoder/internal/preview"
	"github.com/skillre/mindmap-qoder/internal/revision"
)

var errArgs = errors.New("invalid number of arguments")

func errorValue(err error) any {
	return js.Global().Get("Error").New(err.Error())
}

func main() {
	c := codec.New(nil)
	renderer := preview.NewRenderer()

	// format: generateFileName(title) -> "title_20240301T100000.json"
	generateFileName := js.FuncOf(func(this js.Value, args []js.Value) any {
		title := ""
		if len(args) > 0 {
			title = args[0].String()
		}
		return naming.WithExt(naming.DefaultFileName(title, time.Now()))
	})

	// format: generateFilePath(fileName) -> "mindmaps/fileName.json"
	generateFilePath := js.FuncOf(func(this js.Value, args []js.Value) any {
		if len(args) != 1 {
			return errorValue(errArgs)
		}
		p, err := naming.CanonicalPath(args[0].String())
		if err != nil {
			return errorValue(err)
		}
		return p
	})

	// format: checkConflict(localSha, remoteSha) -> bool
	checkConflict := js.FuncOf(func(this js.Value, args []js.Value) any {
		if len(args) != 2 {
			return false
		}
		return revision.CheckConflict(args[0].String(), args[1].String())
	})

	// format: wrapDocument(payloadJSON, priorEnvelopeJSON|null, author) -> envelopeJSON
	wrapDocument := js.FuncOf(func(this js.Value, args []js.Value) any {
		if len(args) != 3 {
			return errorValue(errArgs)
		}
		var prior *codec.Envelope
		if p := args[1]; p.Type() == js.TypeString && p.String() != "" {
			env, err := codec.UnmarshalEnvelope([]byte(p.String()))
			if err != nil {
				return errorValue(err)
			}
			prior = env
		}
		env, err := c.Wrap(json.RawMessage(args[0].String()), prior, args[2].String())
		if err != nil {
			return errorValue(err)
		}
		text, err := codec.MarshalEnvelope(env)
		if err != nil {
			return errorValue(err)
		}
		return string(text)
	})

	// format: renderOutline(payloadJSON) -> htmlString
	renderOutline := js.FuncOf(func(this js.Value, args []js.Value) any {
		if len(args) != 1 {
			return errorValue(errArgs)
		}
		outline, err := preview.Outline(json.RawMessage(args[0].String()))
		if err != nil {
			return errorValue(err)
		}
		html, err := renderer.Render([]byte(outline))
		if err != nil {
			return errorValue(err)
		}
		return string(html)
	})

	js.Global().Set("generateFileName", generateFileName)
	js.Global().Set("generateFilePath", generateFilePath)
	js.Global().Set("checkConflict", checkConflict)
	js.Global().Set("wrapDocument", wrapDocument)
	js.Global().Set("renderOutline", renderOutline)

	println("mindmap core wasm initialized")

	// Prevent the function from returning, which would exit the Wasm module
	select {}
}
