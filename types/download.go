package types

import "net/http"

// DownloadStatus is stored as an integer. Values below 100 are
// internal lifecycle markers; anything in the HTTP range records the
// response code of a failed fetch, except StatusSuccess (200).
type DownloadStatus int

const (
	StatusPending      DownloadStatus = 0
	StatusEnqueued     DownloadStatus = 1
	StatusDownloading  DownloadStatus = 2
	StatusGenericError DownloadStatus = 3

	// statusLastCustom is the top of the internal marker range.
	statusLastCustom DownloadStatus = 99

	StatusSuccess DownloadStatus = DownloadStatus(http.StatusOK)
)

// IsError reports whether the status records a failed fetch: either
// the generic error marker or an HTTP status other than 200.
func (s DownloadStatus) IsError() bool {
	return s == StatusGenericError || (s > statusLastCustom && s != StatusSuccess)
}

func (s DownloadStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusEnqueued:
		return "enqueued"
	case StatusDownloading:
		return "downloading"
	case StatusGenericError:
		return "error"
	case StatusSuccess:
		return "success"
	default:
		if s.IsError() {
			return "error (HTTP " + http.StatusText(int(s)) + ")"
		}
		return "unknown"
	}
}

// Download is a globally shared fetch record keyed by normalized URL.
// Many attachments, avatars and emoji may reference the same row; the
// underlying object is fetched at most once.
type Download struct {
	NormalizedURL string
	DownloadURL   string
	Status        DownloadStatus
	Type          *string
	Size          *uint64
}

// NewPendingDownload builds the row inserted when a referenced URL is
// first seen.
func NewPendingDownload(normalizedURL, downloadURL string, contentType *string, size *uint64) Download {
	return Download{
		NormalizedURL: normalizedURL,
		DownloadURL:   downloadURL,
		Status:        StatusPending,
		Type:          contentType,
		Size:          size,
	}
}

// DownloadItem is the unit of work that moves through the download
// pipeline: just enough to fetch the object and write the result back.
type DownloadItem struct {
	NormalizedURL string
	DownloadURL   string
	Type          *string
	Size          *uint64
}
