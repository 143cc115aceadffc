// Package types holds the plain data model shared by the database and
// the download manager: captured entities, download rows, and filter
// predicates. It carries no storage or network logic.
package types

// Snowflake is a 64-bit, roughly time-ordered identifier assigned by
// the capture source. Message ordering follows snowflake order.
type Snowflake = uint64

type ServerType string

const (
	ServerTypeServer  ServerType = "SERVER"
	ServerTypeGroup   ServerType = "GROUP"
	ServerTypeDM      ServerType = "DM"
	ServerTypeUnknown ServerType = "UNKNOWN"
)

// ServerTypeFromString maps a stored type marker back to a ServerType.
// Markers written by a newer capture script come back as
// ServerTypeUnknown instead of leaking arbitrary strings into the
// model.
func ServerTypeFromString(s string) ServerType {
	switch t := ServerType(s); t {
	case ServerTypeServer, ServerTypeGroup, ServerTypeDM:
		return t
	default:
		return ServerTypeUnknown
	}
}

type User struct {
	ID            Snowflake
	Name          string
	DisplayName   *string
	AvatarHash    *string
	Discriminator *string
}

type Server struct {
	ID   Snowflake
	Name string
	Type ServerType
}

type Channel struct {
	ID       Snowflake
	Server   Snowflake
	Name     string
	ParentID *Snowflake
	Position *int
	Topic    *string
	NSFW     *bool
}

type Message struct {
	ID            Snowflake
	Sender        Snowflake
	Channel       Snowflake
	Text          string
	Timestamp     int64
	EditTimestamp *int64
	RepliedToID   *Snowflake

	Attachments []Attachment
	Embeds      []Embed
	Reactions   []Reaction
}

// Attachment is owned by a message but globally keyed by its own id.
// NormalizedURL is the dedup key shared with the downloads table.
type Attachment struct {
	ID            Snowflake
	Name          string
	Type          *string
	NormalizedURL string
	DownloadURL   string
	Size          uint64
	Width         *int
	Height        *int
}

// Embed is an opaque structured document stored verbatim. Only media
// links are ever interpreted, and leniently at that.
type Embed struct {
	JSON string
}

type EmojiFlags int

const (
	EmojiFlagAnimated EmojiFlags = 1 << iota
)

// Reaction carries either a custom emoji id or a plain emoji name;
// at least one of the two is always set.
type Reaction struct {
	EmojiID   *Snowflake
	EmojiName *string
	Flags     EmojiFlags
	Count     int
}
