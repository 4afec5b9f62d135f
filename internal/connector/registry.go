// Package connector defines the connector type lattice and the compatibility
// rule used everywhere an edge is proposed.
package connector

import (
	"fmt"
)

// Type is the data type carried by a node connector.
type Type string

const (
	TypeText  Type = "text"
	TypeImage Type = "image"
	TypeVideo Type = "video"
	// TypeAny is a universal producer/consumer, compatible with every type.
	TypeAny Type = "any"
)

// Direction distinguishes input and output connectors.
type Direction string

const (
	DirectionSource Direction = "source"
	DirectionTarget Direction = "target"
)

// Types lists every defined connector type.
func Types() []Type {
	return []Type{TypeText, TypeImage, TypeVideo, TypeAny}
}

// Valid reports whether t is a defined connector type.
func Valid(t Type) bool {
	switch t {
	case TypeText, TypeImage, TypeVideo, TypeAny:
		return true
	}
	return false
}

// Parse converts a string to a connector Type.
func Parse(s string) (Type, error) {
	t := Type(s)
	if !Valid(t) {
		return "", fmt.Errorf("unknown connector type %q", s)
	}
	return t, nil
}

// Compatible reports whether data may flow from a source connector of type
// source into a target connector of type target. Equal types are compatible,
// and "any" matches on either side. The rule is checked at edge creation and
// again defensively before each transmission; it is pure and has no side
// effects. Callers must not assume compatibility is symmetric as a general
// law, only that it holds for the defined types.
func Compatible(source, target Type) bool {
	if source == target {
		return true
	}
	if source == TypeAny || target == TypeAny {
		return true
	}
	return false
}

// IncompatibleError reports a rejected edge proposal. The graph is left
// unchanged; the message names both types so the UI can surface it directly.
type IncompatibleError struct {
	Source Type
	Target Type
}

func (e *IncompatibleError) Error() string {
	return fmt.Sprintf("cannot connect %s output to %s input", e.Source, e.Target)
}
