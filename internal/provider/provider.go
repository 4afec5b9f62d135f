// Package provider defines AI provider adapters, one per generation modality.
package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/nodecanvas-ai/canvas-engine/internal/model"
)

var (
	// ErrGenerationFailed wraps any provider failure. The propagation layer
	// treats the underlying vendor error opaquely.
	ErrGenerationFailed = errors.New("generation failed")

	// ErrGenerationTimeout is a specialization of ErrGenerationFailed for
	// long-running calls that exhausted their poll budget.
	ErrGenerationTimeout = fmt.Errorf("%w: timed out", ErrGenerationFailed)
)

// Modality is the kind of content a provider generates.
type Modality string

const (
	ModalityText  Modality = "text"
	ModalityImage Modality = "image"
	ModalityVideo Modality = "video"
)

// Request is a generation request carrying the node's instruction and the
// merged conversation context.
type Request struct {
	Instruction string
	Context     model.ConversationContext
	Model       string
	MaxTokens   int
	Temperature float64
}

// Result is a generation result.
type Result struct {
	Content    model.Content
	Model      string
	TokensIn   int
	TokensOut  int
	StopReason string
	LatencyMs  int64
}

// Client is the interface for AI providers. One client serves one modality;
// the engine does not care which vendor implements it.
type Client interface {
	// Generate runs one generation call with the given context.
	Generate(ctx context.Context, req *Request) (*Result, error)

	// Name returns the provider name.
	Name() string

	// Modality returns the content kind this client produces.
	Modality() Modality
}

// Registry maps modalities to configured clients.
type Registry struct {
	clients map[Modality]Client
}

// NewRegistry builds a registry from the given clients. A later client for
// the same modality replaces an earlier one.
func NewRegistry(clients ...Client) *Registry {
	r := &Registry{clients: make(map[Modality]Client)}
	for _, c := range clients {
		if c != nil {
			r.clients[c.Modality()] = c
		}
	}
	return r
}

// For returns the client serving a modality.
func (r *Registry) For(m Modality) (Client, error) {
	c, ok := r.clients[m]
	if !ok {
		return nil, fmt.Errorf("no provider configured for %s generation", m)
	}
	return c, nil
}

// ImageRef points to one image carried by a chat message.
type ImageRef struct {
	URL      string
	MIMEType string
}

// ChatMessage is the neutral wire shape adapters convert from. A message
// holds all of its image parts; adapters must not assume at most one.
type ChatMessage struct {
	Role   string
	Text   string
	Images []ImageRef
}

// flatten converts the merged context plus instruction into neutral chat
// messages, handling both content representations exhaustively.
func flatten(req *Request) []ChatMessage {
	var out []ChatMessage
	for _, msg := range req.Context.Messages {
		switch msg.Content.Kind {
		case model.ContentText:
			out = append(out, ChatMessage{Role: string(msg.Role), Text: msg.Content.Text})
		case model.ContentParts:
			cm := ChatMessage{Role: string(msg.Role)}
			for _, p := range msg.Content.Parts {
				switch p.Kind {
				case model.PartText:
					cm.Text += p.Text
				case model.PartImage:
					cm.Images = append(cm.Images, ImageRef{URL: p.ImageRef, MIMEType: p.MIMEType})
				}
			}
			out = append(out, cm)
		}
	}
	if req.Instruction != "" {
		out = append(out, ChatMessage{Role: string(model.RoleUser), Text: req.Instruction})
	}
	return out
}
