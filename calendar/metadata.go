package calendar

import (
	"encoding/json"
	"fmt"

	"github.com/inboxd/calengine/calendar/recurrence"
)

// metadataVersion is the current encoding version. Version 1 rows predate
// the timezone map and carry untrustworthy start/end values.
const metadataVersion = 2

// ItemMetadata is the persisted representation of a calendar item. The
// engine hands it to the MetadataStore; the layout is logical, the store
// decides how it lands on disk.
type ItemMetadata struct {
	ID       int    `json:"id"`
	FolderID int    `json:"folderId"`
	UID      string `json:"uid"`
	Type     int    `json:"type"`

	StartUnixMs int64 `json:"startMs,omitempty"`
	EndUnixMs   int64 `json:"endMs,omitempty"`

	// TZIDs is absent in legacy (version 1) encodings; its absence tells
	// the decoder not to trust start/end.
	TZIDs *[]string `json:"tzids,omitempty"`

	Invites    []*Invite              `json:"invites"`
	Recurrence *recurrence.Recurrence `json:"recurrence,omitempty"`
	Replies    *ReplyList             `json:"replies,omitempty"`
	AlarmData  *AlarmData             `json:"alarmData,omitempty"`

	BlobID     string `json:"blobId,omitempty"`
	BlobSize   int64  `json:"blobSize,omitempty"`
	BlobDigest string `json:"blobDigest,omitempty"`

	Version int `json:"version"`
}

// encodeMetadata snapshots the item into its persisted form.
func (e *Engine) encodeMetadata(item *CalendarItem) *ItemMetadata {
	meta := &ItemMetadata{
		ID:         item.ID,
		FolderID:   item.FolderID,
		UID:        item.UID,
		Type:       int(item.Type),
		Invites:    item.Invites,
		Recurrence: item.Recurrence,
		Replies:    item.Replies,
		AlarmData:  item.AlarmData,
		Version:    metadataVersion,
	}
	if !item.Start.IsZero() {
		meta.StartUnixMs = item.Start.UnixMilli()
	}
	if !item.End.IsZero() {
		meta.EndUnixMs = item.End.UnixMilli()
	}
	tzids := []string{}
	if item.TZMap != nil {
		tzids = item.TZMap.TZIDs()
	}
	meta.TZIDs = &tzids
	if item.Blob != nil {
		meta.BlobID = item.Blob.ID
		meta.BlobSize = item.Blob.Size
		meta.BlobDigest = item.Blob.Digest
	}
	return meta
}

// EncodeMetadata serializes the persisted form to bytes.
func EncodeMetadata(meta *ItemMetadata) ([]byte, error) {
	data, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("encoding item metadata: %w", err)
	}
	return data, nil
}

// DecodeMetadata parses persisted bytes back into metadata.
func DecodeMetadata(data []byte) (*ItemMetadata, error) {
	var meta ItemMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("decoding item metadata: %w", err)
	}
	return &meta, nil
}

// ItemFromMetadata reconstructs a calendar item. A missing timezone map
// marks a legacy row whose start/end cannot be trusted; they are zeroed so
// callers recompute them before use.
func ItemFromMetadata(meta *ItemMetadata) *CalendarItem {
	item := &CalendarItem{
		ID:         meta.ID,
		FolderID:   meta.FolderID,
		UID:        meta.UID,
		Type:       ItemType(meta.Type),
		Invites:    meta.Invites,
		Recurrence: meta.Recurrence,
		Replies:    meta.Replies,
		AlarmData:  meta.AlarmData,
	}
	if item.Replies == nil {
		item.Replies = NewReplyList()
	}
	if meta.TZIDs != nil {
		item.TZMap = NewTimeZoneMapFromIDs(*meta.TZIDs)
		if meta.StartUnixMs != 0 {
			item.Start = timeFromUnixMs(meta.StartUnixMs)
		}
		if meta.EndUnixMs != 0 {
			item.End = timeFromUnixMs(meta.EndUnixMs)
		}
	} else {
		// Legacy schema: no timezone map, start/end unknown.
		item.TZMap = NewTimeZoneMap()
	}
	if meta.BlobID != "" {
		item.Blob = &MailboxBlob{ID: meta.BlobID, Size: meta.BlobSize, Digest: meta.BlobDigest}
	}
	item.recomputeFlags()
	return item
}
