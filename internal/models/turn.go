package models

import (
	"mime"
	"strings"
)

// Turn is a single role-tagged entry of the conversation sent upstream. Unlike Message, a Turn
// carries the encoded content of image attachments, so it only lives for the duration of a request.
type Turn struct {
	Role  Role
	Parts []Part
}

// Part is a piece of a Turn's content.
type Part struct {
	Type PartType

	// Text would be filled if Type is PartTypeText.
	Text string

	// MediaType would be filled if Type is PartTypeImage.
	MediaType string
	// Data is the base64 (standard encoding) content of the image, filled if Type is PartTypeImage.
	Data string
}

// PartType represents the type of content in a Turn.
type PartType string

const (
	PartTypeText  PartType = "text"
	PartTypeImage PartType = "image"
)

// TextTurn builds a turn holding a single text part.
func TextTurn(role Role, text string) Turn {
	return Turn{Role: role, Parts: []Part{{Type: PartTypeText, Text: text}}}
}

// Text concatenates the text parts of the turn.
func (t Turn) Text() string {
	var sb strings.Builder
	for _, p := range t.Parts {
		if p.Type == PartTypeText {
			sb.WriteString(p.Text)
		}
	}
	return sb.String()
}

// Images returns the image parts of the turn, in order.
func (t Turn) Images() []Part {
	var images []Part
	for _, p := range t.Parts {
		if p.Type == PartTypeImage {
			images = append(images, p)
		}
	}
	return images
}

// DataURL renders an image part as a data URL.
func (p Part) DataURL() string {
	return "data:" + p.MediaType + ";base64," + p.Data
}

// IsImage reports whether the media type denotes an image. Parameters such as charset are ignored.
func IsImage(mediaType string) bool {
	mt, _, err := mime.ParseMediaType(mediaType)
	if err != nil {
		mt = strings.ToLower(strings.TrimSpace(mediaType))
	}
	return strings.HasPrefix(mt, "image/")
}
