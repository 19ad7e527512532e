package chat

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/OmChillure/clinic-chat/internal/models"
)

// DefaultContextWindow is the estimated token budget of a request when Options leaves it unset.
const DefaultContextWindow = 3000

// DefaultImagePrompt is sent as the text of a turn that carries images but no text.
const DefaultImagePrompt = "Analyze this medical image and provide a detailed analysis."

// minTurns is the number of most recent turns kept regardless of the context window.
const minTurns = 2

// Upload is an attachment as submitted by the user. Its content is only read while the request is
// being serialized.
type Upload struct {
	MediaType string
	FileName  string
	Open      func() (io.ReadCloser, error)
}

// BytesUpload creates an upload from in-memory content.
func BytesUpload(mediaType, fileName string, data []byte) Upload {
	return Upload{
		MediaType: mediaType,
		FileName:  fileName,
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		},
	}
}

// FileUpload creates an upload reading the file at path. The media type is derived from the file
// extension.
func FileUpload(path string) Upload {
	mediaType := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if mediaType == "" {
		mediaType = "application/octet-stream"
	}
	return Upload{
		MediaType: mediaType,
		FileName:  filepath.Base(path),
		Open: func() (io.ReadCloser, error) {
			return os.Open(path)
		},
	}
}

func attachments(uploads []Upload) []models.Attachment {
	if len(uploads) == 0 {
		return nil
	}
	as := make([]models.Attachment, len(uploads))
	for i, u := range uploads {
		as[i] = models.Attachment{MediaType: u.MediaType, FileName: u.FileName}
	}
	return as
}

// requestTurns serializes the transcript history followed by the new user turn. Failed and empty
// messages are left out, the result is trimmed to the context window and prefixed by the system prompt.
func (c *Client) requestTurns(history []models.Message, user models.Turn) []models.Turn {
	turns := make([]models.Turn, 0, len(history)+2)
	for _, m := range history {
		if m.Text == "" || m.StreamingState == models.StreamingStateFailed {
			continue
		}
		if m.Role != models.RoleUser && m.Role != models.RoleAssistant {
			continue
		}
		turns = append(turns, models.TextTurn(m.Role, m.Text))
	}
	turns = append(turns, user)
	turns = trimTurns(turns, c.contextWindow)

	if c.systemPrompt == "" {
		return turns
	}
	return append([]models.Turn{models.TextTurn(models.RoleSystem, c.systemPrompt)}, turns...)
}

// userTurn builds the upstream turn for the submitted text. Images are embedded next to the text in a
// single multimodal turn, other uploads are only listed on the transcript message.
func (c *Client) userTurn(text string, uploads []Upload) models.Turn {
	var images []models.Part
	for _, u := range uploads {
		if !models.IsImage(u.MediaType) {
			continue
		}
		data, err := encodeUpload(u)
		if err != nil {
			c.logger.Warn("Dropping attachment",
				slog.String("fileName", u.FileName),
				slog.String("mediaType", u.MediaType),
				slog.String(errLoggerKey, err.Error()))
			continue
		}
		images = append(images, models.Part{
			Type:      models.PartTypeImage,
			MediaType: baseMediaType(u.MediaType),
			Data:      data,
		})
	}

	if len(images) == 0 {
		return models.TextTurn(models.RoleUser, text)
	}
	if strings.TrimSpace(text) == "" {
		text = DefaultImagePrompt
	}
	parts := make([]models.Part, 0, len(images)+1)
	parts = append(parts, models.Part{Type: models.PartTypeText, Text: text})
	parts = append(parts, images...)
	return models.Turn{Role: models.RoleUser, Parts: parts}
}

func encodeUpload(u Upload) (string, error) {
	if u.Open == nil {
		return "", errors.New("upload has no content")
	}
	rc, err := u.Open()
	if err != nil {
		return "", fmt.Errorf("failed to open upload: %w", err)
	}
	defer rc.Close()

	var sb strings.Builder
	enc := base64.NewEncoder(base64.StdEncoding, &sb)
	if _, err := io.Copy(enc, rc); err != nil {
		return "", fmt.Errorf("failed to read upload: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("failed to encode upload: %w", err)
	}
	return sb.String(), nil
}

func baseMediaType(mediaType string) string {
	mt, _, err := mime.ParseMediaType(mediaType)
	if err != nil {
		return mediaType
	}
	return mt
}

// trimTurns drops the oldest turns while the estimated token count exceeds window, always keeping the
// minTurns most recent ones.
func trimTurns(turns []models.Turn, window int) []models.Turn {
	if window < 0 {
		return turns
	}
	total := 0
	for _, t := range turns {
		total += estimateTokens(t.Text())
	}
	start := 0
	for total > window && len(turns)-start > minTurns {
		total -= estimateTokens(turns[start].Text())
		start++
	}
	return turns[start:]
}

// estimateTokens approximates the token count of a text as one token per three characters.
func estimateTokens(text string) int {
	return utf8.RuneCountInString(text) / 3
}
