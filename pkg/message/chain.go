package message

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ElementType tags one element of a message chain.
type ElementType string

const (
	ElementPlain ElementType = "Plain"
	ElementFace  ElementType = "Face"
	ElementAt    ElementType = "At"
	ElementImage ElementType = "Image"
	ElementVoice ElementType = "Voice"
)

// SourceKind says how a media element refers to its content.
type SourceKind string

const (
	SourceURL    SourceKind = "url"
	SourceBase64 SourceKind = "base64"
)

// Element is a tagged union over chain element kinds. Only the fields relevant
// to Type are meaningful.
type Element struct {
	Type   ElementType
	Text   string
	Face   string
	Target int64
	Source SourceKind
	Value  string
}

func PlainElement(text string) Element {
	return Element{Type: ElementPlain, Text: text}
}

func FaceElement(name string) Element {
	return Element{Type: ElementFace, Face: name}
}

func TagElement(target int64) Element {
	return Element{Type: ElementAt, Target: target}
}

func ImageElement(source SourceKind, value string) Element {
	return Element{Type: ElementImage, Source: source, Value: value}
}

func VoiceElement(source SourceKind, value string) Element {
	return Element{Type: ElementVoice, Source: source, Value: value}
}

// IsMedia reports whether the element is an image or a voice clip.
func (e Element) IsMedia() bool {
	return e.Type == ElementImage || e.Type == ElementVoice
}

// MarshalJSON writes the relay wire shape, e.g. {"type":"Face","name":"smile"}.
func (e Element) MarshalJSON() ([]byte, error) {
	out := map[string]any{"type": string(e.Type)}
	switch e.Type {
	case ElementPlain:
		out["text"] = e.Text
	case ElementFace:
		out["name"] = e.Face
	case ElementAt:
		out["target"] = e.Target
	case ElementImage, ElementVoice:
		out[string(e.Source)] = e.Value
	default:
		return nil, fmt.Errorf("unknown element type %q", e.Type)
	}

	return json.Marshal(out)
}

func (e *Element) UnmarshalJSON(data []byte) error {
	var raw struct {
		Type   ElementType `json:"type"`
		Text   string      `json:"text"`
		Name   string      `json:"name"`
		Target int64       `json:"target"`
		URL    *string     `json:"url"`
		Base64 *string     `json:"base64"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	switch raw.Type {
	case ElementPlain:
		*e = PlainElement(raw.Text)
	case ElementFace:
		*e = FaceElement(raw.Name)
	case ElementAt:
		*e = TagElement(raw.Target)
	case ElementImage, ElementVoice:
		elem := Element{Type: raw.Type}
		switch {
		case raw.URL != nil:
			elem.Source, elem.Value = SourceURL, *raw.URL
		case raw.Base64 != nil:
			elem.Source, elem.Value = SourceBase64, *raw.Base64
		default:
			return fmt.Errorf("%s element has no url or base64 source", raw.Type)
		}
		*e = elem
	default:
		return fmt.Errorf("unknown element type %q", raw.Type)
	}

	return nil
}

// Chain is an ordered message chain. It is also an inbound payload variant.
type Chain struct {
	Elements []Element
}

func (Chain) Kind() PayloadKind { return KindChain }
func (Chain) isPayload()        {}

// NewChain builds a chain from elements.
func NewChain(elements ...Element) Chain {
	return Chain{Elements: elements}
}

// PlainText renders the chain for text-only sinks and logs.
func (c Chain) PlainText() string {
	var b strings.Builder
	for _, elem := range c.Elements {
		switch elem.Type {
		case ElementPlain:
			b.WriteString(elem.Text)
		case ElementFace:
			b.WriteString(":" + elem.Face + ":")
		case ElementAt:
			b.WriteString("@" + strconv.FormatInt(elem.Target, 10))
		case ElementImage:
			b.WriteString("[image]")
		case ElementVoice:
			b.WriteString("[voice]")
		}
	}

	return b.String()
}

// Media returns the media elements of the chain in order.
func (c Chain) Media() []Element {
	var media []Element
	for _, elem := range c.Elements {
		if elem.IsMedia() {
			media = append(media, elem)
		}
	}

	return media
}

func (c Chain) MarshalJSON() ([]byte, error) {
	if c.Elements == nil {
		return []byte("[]"), nil
	}

	return json.Marshal(c.Elements)
}

func (c *Chain) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &c.Elements)
}
