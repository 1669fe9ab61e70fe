package core

// BlockTypeInput marks a workflow entry block whose value comes from the
// caller-supplied input payload.
const BlockTypeInput = "input"

// InputTypeFile marks an input block backed by an uploaded file. Uploads
// expire after 30 minutes, which is why schedules reject them.
const InputTypeFile = "file"

// Agent is a user-owned, previously authored workflow definition.
type Agent struct {
	ID       string    `json:"id" yaml:"id"`
	Name     string    `json:"name" yaml:"name"`
	UserID   string    `json:"user_id" yaml:"user_id"`
	Workflow *Workflow `json:"workflow,omitempty" yaml:"workflow,omitempty"`
}

// Workflow is the authored block graph. Evaluation is the interpreter's
// business; this layer only inspects block metadata for validation.
type Workflow struct {
	Goal   string  `json:"goal,omitempty" yaml:"goal,omitempty"`
	Blocks []Block `json:"blocks" yaml:"blocks"`
}

// Block is one node of the workflow graph.
type Block struct {
	ID        string         `json:"id" yaml:"id"`
	Type      string         `json:"type" yaml:"type"`
	InputType string         `json:"input_type,omitempty" yaml:"input_type,omitempty"`
	Config    map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
	Next      []string       `json:"next,omitempty" yaml:"next,omitempty"`
}

// HasFileInput reports whether the workflow contains an input block
// configured as a file upload.
func (w *Workflow) HasFileInput() bool {
	if w == nil {
		return false
	}
	for _, b := range w.Blocks {
		if b.Type == BlockTypeInput && b.InputType == InputTypeFile {
			return true
		}
	}
	return false
}
