package enginegrpc

import (
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"
	"pkt.systems/nbexec/schema"
)

// DirectiveType names an instruction sent to an engine.
type DirectiveType string

const (
	// DirectiveAttach binds a chunk console to the engine.
	DirectiveAttach DirectiveType = "attach"
	// DirectiveDetach releases a chunk console.
	DirectiveDetach DirectiveType = "detach"
	// DirectiveInput carries console text for the attached chunk.
	DirectiveInput DirectiveType = "input"
)

// Directive is one instruction streamed to a connected engine.
type Directive struct {
	Type       DirectiveType
	ContextID  schema.NotebookContextID
	DocID      schema.DocID
	ChunkID    schema.ChunkID
	Options    schema.ChunkOptions
	PixelWidth int
	CharWidth  int
	Replace    bool
	Text       string
}

func attachDirective(req schema.ExecAttach) Directive {
	return Directive{
		Type:       DirectiveAttach,
		ContextID:  req.ContextID,
		DocID:      req.DocID,
		ChunkID:    req.ChunkID,
		Options:    req.Options,
		PixelWidth: req.PixelWidth,
		CharWidth:  req.CharWidth,
		Replace:    req.Replace,
	}
}

func toPBDirective(d Directive) (*structpb.Struct, error) {
	fields := map[string]any{
		"type":     string(d.Type),
		"doc_id":   string(d.DocID),
		"chunk_id": string(d.ChunkID),
	}
	switch d.Type {
	case DirectiveAttach:
		options := map[string]any{}
		for k, v := range d.Options {
			options[k] = v
		}
		fields["nb_ctx_id"] = string(d.ContextID)
		fields["options"] = options
		fields["pixel_width"] = d.PixelWidth
		fields["char_width"] = d.CharWidth
		fields["replace"] = d.Replace
	case DirectiveInput:
		fields["text"] = d.Text
	}
	msg, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("encode %s directive: %w", d.Type, err)
	}
	return msg, nil
}

func fromPBDirective(msg *structpb.Struct) Directive {
	fields := msg.GetFields()
	d := Directive{
		Type:       DirectiveType(stringField(fields, "type")),
		ContextID:  schema.NotebookContextID(stringField(fields, "nb_ctx_id")),
		DocID:      schema.DocID(stringField(fields, "doc_id")),
		ChunkID:    schema.ChunkID(stringField(fields, "chunk_id")),
		PixelWidth: int(fields["pixel_width"].GetNumberValue()),
		CharWidth:  int(fields["char_width"].GetNumberValue()),
		Replace:    fields["replace"].GetBoolValue(),
		Text:       stringField(fields, "text"),
	}
	if opts := fields["options"].GetStructValue(); opts != nil {
		d.Options = schema.ChunkOptions(opts.AsMap())
	}
	return d
}

func toPBCompleted(done schema.ChunkExecCompleted) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"doc_id":    string(done.DocID),
		"chunk_id":  string(done.ChunkID),
		"nb_ctx_id": string(done.ContextID),
	})
}

func fromPBCompleted(msg *structpb.Struct) schema.ChunkExecCompleted {
	fields := msg.GetFields()
	return schema.ChunkExecCompleted{
		DocID:     schema.DocID(stringField(fields, "doc_id")),
		ChunkID:   schema.ChunkID(stringField(fields, "chunk_id")),
		ContextID: schema.NotebookContextID(stringField(fields, "nb_ctx_id")),
	}
}

func toPBOutput(req schema.ConsoleOutputRequest) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"console_id": string(req.ConsoleID),
		"type":       string(req.Output.Type),
		"text":       req.Output.Text,
	})
}

func fromPBOutput(msg *structpb.Struct) schema.ConsoleOutputRequest {
	fields := msg.GetFields()
	return schema.ConsoleOutputRequest{
		ConsoleID: schema.ConsoleID(stringField(fields, "console_id")),
		Output: schema.ChunkOutput{
			Type: schema.NormalizeOutputType(stringField(fields, "type")),
			Text: stringField(fields, "text"),
		},
	}
}

func stringField(fields map[string]*structpb.Value, name string) string {
	return fields[name].GetStringValue()
}
