package cdn

import (
	"encoding/json"

	"github.com/charmbracelet/log"
)

// embedDocument is the small slice of an embed payload we interpret.
// Embed shapes vary by provider and change without notice, so unknown
// and missing fields are ignored rather than rejected.
type embedDocument struct {
	Type  string      `json:"type"`
	Image *embedMedia `json:"image"`
	Video *embedMedia `json:"video"`
}

type embedMedia struct {
	URL string `json:"url"`
}

// ExtractFromEmbedJSON pulls a downloadable media link out of an
// embed payload, if it has one and the link is CDN-hosted. A payload
// that cannot be parsed is logged and skipped, never an error.
func ExtractFromEmbedJSON(logger *log.Logger, embedJSON string) *FileURL {
	var doc embedDocument
	if err := json.Unmarshal([]byte(embedJSON), &doc); err != nil {
		logger.Error("could not parse embed json", "error", err)
		return nil
	}

	switch {
	case doc.Type == "image" && doc.Image != nil && doc.Image.URL != "":
		return fromEmbedMedia(logger, doc.Image.URL, guessImageType)
	case doc.Type == "video" && doc.Video != nil && doc.Video.URL != "":
		return fromEmbedMedia(logger, doc.Video.URL, guessVideoType)
	default:
		return nil
	}
}

func fromEmbedMedia(logger *log.Logger, rawURL string, guessType func(string) *string) *FileURL {
	if !IsCDN(rawURL) {
		logger.Debug("skipping non-CDN embed url", "url", rawURL)
		return nil
	}
	normalized := NormalizeURL(rawURL)
	return &FileURL{
		NormalizedURL: normalized,
		DownloadURL:   rawURL,
		Type:          guessType(normalized),
	}
}
