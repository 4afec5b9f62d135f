package model

// Attachment is a file or resource context item supplied at run time. Each
// item is either a text blob or an image reference with a MIME type.
type Attachment struct {
	Text     string `json:"text,omitempty"`
	ImageRef string `json:"image_ref,omitempty"`
	MIMEType string `json:"mime_type,omitempty"`
}

// ConnectorSpec declares one typed port on a node.
type ConnectorSpec struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// CreateNodeRequest is the request to add a node to the canvas.
type CreateNodeRequest struct {
	Kind        string          `json:"kind"`
	Root        bool            `json:"root"`
	Instruction string          `json:"instruction,omitempty"`
	Inputs      []ConnectorSpec `json:"inputs,omitempty"`
	Outputs     []ConnectorSpec `json:"outputs,omitempty"`
}

// ProposeEdgeRequest is the request to connect two node connectors.
type ProposeEdgeRequest struct {
	SourceNode      string `json:"source_node"`
	SourceConnector string `json:"source_connector"`
	TargetNode      string `json:"target_node"`
	TargetConnector string `json:"target_connector"`
}

// ProposeEdgeResponse reports whether the proposed edge was allowed.
type ProposeEdgeResponse struct {
	Allowed bool   `json:"allowed"`
	EdgeID  string `json:"edge_id,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// RunNodeRequest triggers one node execution.
type RunNodeRequest struct {
	Prompt      string       `json:"prompt,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// BrandVoiceRequest sets the brand voice preamble.
type BrandVoiceRequest struct {
	Preamble string `json:"preamble"`
}
