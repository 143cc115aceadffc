package types

import "time"

// MessageFilter narrows message queries. Nil/empty fields mean "no
// constraint"; a zero filter matches every message.
type MessageFilter struct {
	StartDate  *time.Time
	EndDate    *time.Time
	ChannelIDs map[Snowflake]struct{}
	UserIDs    map[Snowflake]struct{}
	MessageIDs map[Snowflake]struct{}
}

func (f *MessageFilter) IsEmpty() bool {
	return f == nil || (f.StartDate == nil && f.EndDate == nil && f.ChannelIDs == nil && f.UserIDs == nil && f.MessageIDs == nil)
}

// AttachmentDownloadRule selects attachments by whether a download row
// exists for their normalized URL.
type AttachmentDownloadRule int

const (
	DownloadRuleOnlyNotPresent AttachmentDownloadRule = iota
	DownloadRuleOnlyPresent
)

type AttachmentFilter struct {
	MaxBytes     *uint64
	DownloadRule *AttachmentDownloadRule
}

func (f *AttachmentFilter) IsEmpty() bool {
	return f == nil || (f.MaxBytes == nil && f.DownloadRule == nil)
}

// DownloadFilter narrows download rows by status and size.
type DownloadFilter struct {
	IncludeStatuses map[DownloadStatus]struct{}
	ExcludeStatuses map[DownloadStatus]struct{}
	MaxBytes        *uint64
}

func (f *DownloadFilter) IsEmpty() bool {
	return f == nil || (f.IncludeStatuses == nil && f.ExcludeStatuses == nil && f.MaxBytes == nil)
}

// FilterRemovalMode picks which side of a filter a removal targets, so
// "delete matching" and "keep only matching" share one condition
// compiler.
type FilterRemovalMode int

const (
	RemoveMatching FilterRemovalMode = iota
	KeepMatching
)
