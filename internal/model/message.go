// Package model defines data structures for the canvas engine.
package model

import (
	"strings"
	"time"
)

// Role represents the role of a message sender.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ContentKind discriminates the two content representations.
type ContentKind string

const (
	// ContentText is plain text content.
	ContentText ContentKind = "text"
	// ContentParts is an ordered sequence of typed parts.
	ContentParts ContentKind = "parts"
)

// PartKind discriminates typed content parts.
type PartKind string

const (
	PartText  PartKind = "text"
	PartImage PartKind = "image"
)

// Part is one element of multi-part message content.
type Part struct {
	Kind     PartKind `json:"kind"`
	Text     string   `json:"text,omitempty"`
	ImageRef string   `json:"image_ref,omitempty"`
	MIMEType string   `json:"mime_type,omitempty"`
}

// Content is a tagged union of plain text and typed parts. Exactly one
// representation is populated, selected by Kind.
type Content struct {
	Kind  ContentKind `json:"kind"`
	Text  string      `json:"text,omitempty"`
	Parts []Part      `json:"parts,omitempty"`
}

// TextContent builds plain text content.
func TextContent(text string) Content {
	return Content{Kind: ContentText, Text: text}
}

// PartsContent builds multi-part content.
func PartsContent(parts ...Part) Content {
	return Content{Kind: ContentParts, Parts: parts}
}

// TextPart builds a text part.
func TextPart(text string) Part {
	return Part{Kind: PartText, Text: text}
}

// ImagePart builds an image part referencing stored bytes or a URL.
func ImagePart(ref, mimeType string) Part {
	return Part{Kind: PartImage, ImageRef: ref, MIMEType: mimeType}
}

// PlainText flattens content to its textual representation. Image parts
// contribute nothing.
func (c Content) PlainText() string {
	switch c.Kind {
	case ContentText:
		return c.Text
	case ContentParts:
		var b strings.Builder
		for _, p := range c.Parts {
			if p.Kind == PartText {
				b.WriteString(p.Text)
			}
		}
		return b.String()
	}
	return ""
}

// Message represents one entry in a conversation thread.
type Message struct {
	ID        string    `json:"id,omitempty"`
	Role      Role      `json:"role"`
	Content   Content   `json:"content"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}
