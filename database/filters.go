package database

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"chatvault/types"
)

// conditionBuilder collects ANDed conditions for one table. An empty
// builder compiles to TRUE (inverted: FALSE) so an absent filter and
// an empty filter select the same rows.
type conditionBuilder struct {
	tableAlias string
	invert     bool
	conditions []string
}

func newConditionBuilder(tableAlias string, invert bool) *conditionBuilder {
	return &conditionBuilder{tableAlias: tableAlias, invert: invert}
}

func (b *conditionBuilder) add(condition string) {
	if b.tableAlias != "" {
		condition = b.tableAlias + "." + condition
	}
	b.conditions = append(b.conditions, condition)
}

// addRaw skips the alias prefix, for conditions that reference other
// tables.
func (b *conditionBuilder) addRaw(condition string) {
	b.conditions = append(b.conditions, condition)
}

func (b *conditionBuilder) build() string {
	if len(b.conditions) == 0 {
		if b.invert {
			return "FALSE"
		}
		return "TRUE"
	}

	joined := strings.Join(b.conditions, " AND ")
	if b.invert {
		return "NOT (" + joined + ")"
	}
	return joined
}

func (b *conditionBuilder) whereClause() string {
	return " WHERE " + b.build()
}

func messageFilterConditions(filter *types.MessageFilter, tableAlias string, invert bool) *conditionBuilder {
	b := newConditionBuilder(tableAlias, invert)

	if filter != nil {
		if filter.StartDate != nil {
			b.add(fmt.Sprintf("timestamp >= %d", filter.StartDate.UnixMilli()))
		}
		if filter.EndDate != nil {
			b.add(fmt.Sprintf("timestamp <= %d", filter.EndDate.UnixMilli()))
		}
		if filter.ChannelIDs != nil {
			b.addIDSet("channel_id", filter.ChannelIDs)
		}
		if filter.UserIDs != nil {
			b.addIDSet("sender_id", filter.UserIDs)
		}
		if filter.MessageIDs != nil {
			b.addIDSet("message_id", filter.MessageIDs)
		}
	}

	return b
}

func downloadFilterConditions(filter *types.DownloadFilter, tableAlias string, invert bool) *conditionBuilder {
	b := newConditionBuilder(tableAlias, invert)

	if filter != nil {
		if filter.IncludeStatuses != nil {
			if len(filter.IncludeStatuses) == 0 {
				b.addRaw("FALSE")
			} else {
				b.add("status IN (" + joinStatuses(filter.IncludeStatuses) + ")")
			}
		}
		// Excluding nothing excludes no rows, so an empty set adds no
		// condition.
		if len(filter.ExcludeStatuses) > 0 {
			b.add("status NOT IN (" + joinStatuses(filter.ExcludeStatuses) + ")")
		}
		if filter.MaxBytes != nil {
			b.add("size IS NOT NULL")
			b.add(fmt.Sprintf("size <= %d", *filter.MaxBytes))
		}
	}

	return b
}

func attachmentFilterConditions(filter *types.AttachmentFilter, tableAlias string, invert bool) *conditionBuilder {
	b := newConditionBuilder(tableAlias, invert)

	if filter != nil {
		if filter.MaxBytes != nil {
			b.add(fmt.Sprintf("size <= %d", *filter.MaxBytes))
		}
		if filter.DownloadRule != nil {
			prefix := qualified(tableAlias, "normalized_url")
			switch *filter.DownloadRule {
			case types.DownloadRuleOnlyPresent:
				b.addRaw(prefix + " IN (SELECT normalized_url FROM download_metadata)")
			case types.DownloadRuleOnlyNotPresent:
				b.addRaw(prefix + " NOT IN (SELECT normalized_url FROM download_metadata)")
			}
		}
	}

	return b
}

func qualified(tableAlias, column string) string {
	if tableAlias == "" {
		return column
	}
	return tableAlias + "." + column
}

// addIDSet renders membership in an id set. An empty set matches no
// rows instead of rendering an invalid IN ().
func (b *conditionBuilder) addIDSet(column string, ids map[types.Snowflake]struct{}) {
	if len(ids) == 0 {
		b.addRaw("FALSE")
		return
	}
	b.add(column + " IN (" + joinSnowflakes(ids) + ")")
}

// joinSnowflakes renders an id set as a stable comma-separated list.
// Ids are numeric, so inlining them is injection-safe and keeps the
// statement cacheable per filter shape.
func joinSnowflakes(ids map[types.Snowflake]struct{}) string {
	sorted := make([]types.Snowflake, 0, len(ids))
	for id := range ids {
		sorted = append(sorted, id)
	}
	slices.Sort(sorted)

	parts := make([]string, len(sorted))
	for i, id := range sorted {
		parts[i] = strconv.FormatUint(id, 10)
	}
	return strings.Join(parts, ",")
}

func joinStatuses(statuses map[types.DownloadStatus]struct{}) string {
	sorted := make([]int, 0, len(statuses))
	for status := range statuses {
		sorted = append(sorted, int(status))
	}
	slices.Sort(sorted)

	parts := make([]string, len(sorted))
	for i, status := range sorted {
		parts[i] = strconv.Itoa(status)
	}
	return strings.Join(parts, ",")
}
