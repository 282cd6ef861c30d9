package cache

import (
	"strconv"
	"strings"
	"time"
)

// maxVersionDigits bounds the search for the version separator. An int64 has
// at most 19 digits plus an optional sign.
const maxVersionDigits = 20

// encodeEntry prefixes a JSON payload with its version: "<version>|<json>".
// A Lua script compares the prefix so stale writers cannot overwrite newer data.
func encodeEntry(payload []byte, version int64) string {
	var b strings.Builder
	b.Grow(maxVersionDigits + 1 + len(payload))
	b.WriteString(strconv.FormatInt(version, 10))
	b.WriteByte('|')
	b.Write(payload)
	return b.String()
}

// decodeEntry splits a stored entry. ok is false when the value does not carry a
// valid version prefix, in which case payload is the raw value.
func decodeEntry(encoded string) (version int64, payload string, ok bool) {
	limit := min(len(encoded), maxVersionDigits+1)
	sep := strings.IndexByte(encoded[:limit], '|')
	if sep < 0 {
		return 0, encoded, false
	}

	v, err := strconv.ParseInt(encoded[:sep], 10, 64)
	if err != nil {
		return 0, encoded, false
	}
	return v, encoded[sep+1:], true
}

// SyncMessage is one page update travelling through the queue.
type SyncMessage struct {
	PageID  int64
	Version int64

	// EnqueuedAt is zero for messages written without a timestamp.
	EnqueuedAt time.Time
}

// EncodeQueueMessage formats a message as "<pageID>:<version>:<unixMillis>".
func EncodeQueueMessage(m SyncMessage) string {
	parts := []string{
		strconv.FormatInt(m.PageID, 10),
		strconv.FormatInt(m.Version, 10),
	}
	if !m.EnqueuedAt.IsZero() {
		parts = append(parts, strconv.FormatInt(m.EnqueuedAt.UnixMilli(), 10))
	}
	return strings.Join(parts, ":")
}

// DecodeQueueMessage parses a queue message. A bare page id is accepted with
// version 0. ok is false when the page id cannot be parsed.
func DecodeQueueMessage(raw string) (m SyncMessage, ok bool) {
	parts := strings.SplitN(raw, ":", 3)

	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return SyncMessage{}, false
	}
	m.PageID = id

	if len(parts) > 1 {
		if v, err := strconv.ParseInt(parts[1], 10, 64); err == nil {
			m.Version = v
		}
	}
	if len(parts) > 2 {
		if ms, err := strconv.ParseInt(parts[2], 10, 64); err == nil {
			m.EnqueuedAt = time.UnixMilli(ms)
		}
	}
	return m, true
}
