package database

import "context"

// Statistics is a point-in-time snapshot of everything the store
// holds.
type Statistics struct {
	Servers     int64
	Channels    int64
	Users       int64
	Messages    int64
	Attachments int64
	Downloads   DownloadStatistics
}

// Statistics gathers all counts in one pass over the repositories.
func (s *Store) Statistics(ctx context.Context) (Statistics, error) {
	var stats Statistics
	var err error

	if stats.Servers, err = s.Servers.Count(ctx); err != nil {
		return stats, err
	}
	if stats.Channels, err = s.Channels.Count(ctx); err != nil {
		return stats, err
	}
	if stats.Users, err = s.Users.Count(ctx); err != nil {
		return stats, err
	}
	if stats.Messages, err = s.Messages.Count(ctx); err != nil {
		return stats, err
	}
	if stats.Attachments, err = s.Attachments.Count(ctx); err != nil {
		return stats, err
	}
	if stats.Downloads, err = s.Downloads.Statistics(ctx); err != nil {
		return stats, err
	}
	return stats, nil
}
