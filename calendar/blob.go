package calendar

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/mail"
	"net/textproto"
	"sort"
	"strconv"
	"strings"
)

// ParsedMessage is the raw RFC 822 message backing one invite.
type ParsedMessage struct {
	Raw []byte
}

const (
	// inviteIDHeader tags each digest body part with the mail item id of
	// the invite it belongs to.
	inviteIDHeader    = "X-Invite-Id"
	digestContentType = "multipart/digest"
)

// digestPart is one body part of the item's MIME container.
type digestPart struct {
	inviteID int
	body     []byte
}

// blobUpdate describes the blob-side effect of one reconciliation pass.
type blobUpdate struct {
	newInviteID int
	newMessage  *ParsedMessage
	// removedIDs are invite ids whose parts disappear.
	removedIDs []int
	// snapToSeries are invite ids whose embedded text/calendar sub-part is
	// rewritten with the series component, preserving the rest of the
	// part's MIME structure.
	snapToSeries []int
}

// encodeDigest serializes parts into a multipart/digest message.
func encodeDigest(parts []digestPart) ([]byte, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for _, p := range parts {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Type", "message/rfc822")
		h.Set(inviteIDHeader, strconv.Itoa(p.inviteID))
		pw, err := w.CreatePart(h)
		if err != nil {
			return nil, err
		}
		if _, err := pw.Write(p.body); err != nil {
			return nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	var out bytes.Buffer
	fmt.Fprintf(&out, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&out, "Content-Type: %s; boundary=%q\r\n\r\n", digestContentType, w.Boundary())
	out.Write(body.Bytes())
	return out.Bytes(), nil
}

// parseDigest reads a multipart/digest container back into its parts.
func parseDigest(data []byte) ([]digestPart, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("reading digest container: %w", err)
	}
	mediaType, params, err := mime.ParseMediaType(msg.Header.Get("Content-Type"))
	if err != nil {
		return nil, fmt.Errorf("parsing digest content type: %w", err)
	}
	if !strings.HasPrefix(mediaType, "multipart/") {
		return nil, fmt.Errorf("unexpected digest content type %q", mediaType)
	}

	var parts []digestPart
	mr := multipart.NewReader(msg.Body, params["boundary"])
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading digest part: %w", err)
		}
		body, err := io.ReadAll(p)
		if err != nil {
			return nil, fmt.Errorf("reading digest part body: %w", err)
		}
		id, err := strconv.Atoi(p.Header.Get(inviteIDHeader))
		if err != nil {
			return nil, fmt.Errorf("digest part missing %s header", inviteIDHeader)
		}
		parts = append(parts, digestPart{inviteID: id, body: body})
	}
	return parts, nil
}

// createBlob builds the item's initial digest blob from the given messages.
func (e *Engine) createBlob(ctx context.Context, item *CalendarItem, msgs map[int]*ParsedMessage) error {
	ids := make([]int, 0, len(msgs))
	for id := range msgs {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	parts := make([]digestPart, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, digestPart{inviteID: id, body: msgs[id].Raw})
	}
	return e.writeBlob(ctx, item, parts)
}

// modifyBlob applies a reconciliation pass's part changes to the item's
// digest blob: removals, the incoming invite's new part, and series-body
// rewrites for exceptions snapped back onto the series.
func (e *Engine) modifyBlob(ctx context.Context, item *CalendarItem, update blobUpdate) error {
	var parts []digestPart
	if item.Blob != nil {
		data, err := e.blobs.GetContent(ctx, item.Blob)
		if err != nil {
			return failure("reading item blob", err)
		}
		parts, err = parseDigest(data)
		if err != nil {
			return failure("parsing item blob", err)
		}
	}

	removed := make(map[int]struct{}, len(update.removedIDs)+1)
	for _, id := range update.removedIDs {
		removed[id] = struct{}{}
	}
	if update.newMessage != nil {
		// The incoming message replaces any previous part with its id.
		removed[update.newInviteID] = struct{}{}
	}
	snap := make(map[int]struct{}, len(update.snapToSeries))
	for _, id := range update.snapToSeries {
		snap[id] = struct{}{}
	}

	kept := parts[:0:0]
	for _, p := range parts {
		if _, drop := removed[p.inviteID]; drop {
			continue
		}
		if _, ok := snap[p.inviteID]; ok {
			rewritten, err := e.rewriteCalendarPart(p.body, item)
			if err != nil {
				e.logger.Warn("rewriting calendar sub-part failed; keeping original", "invId", p.inviteID, "error", err)
			} else {
				p.body = rewritten
			}
		}
		kept = append(kept, p)
	}
	if update.newMessage != nil {
		kept = append(kept, digestPart{inviteID: update.newInviteID, body: update.newMessage.Raw})
	}

	if len(kept) == 0 {
		if item.Blob != nil {
			if err := e.blobs.Delete(ctx, item.Blob); err != nil {
				return failure("deleting empty item blob", err)
			}
			item.Blob = nil
		}
		return nil
	}
	return e.writeBlob(ctx, item, kept)
}

// writeBlob stages and commits the encoded digest, replacing the previous
// blob reference.
func (e *Engine) writeBlob(ctx context.Context, item *CalendarItem, parts []digestPart) error {
	data, err := encodeDigest(parts)
	if err != nil {
		return failure("encoding digest blob", err)
	}
	staged, err := e.blobs.Stage(ctx, data)
	if err != nil {
		return failure("staging item blob", err)
	}
	committed, err := e.blobs.Commit(ctx, staged)
	if err != nil {
		return failure("committing item blob", err)
	}
	if item.Blob != nil {
		if err := e.blobs.Delete(ctx, item.Blob); err != nil {
			e.logger.Warn("deleting superseded blob failed", "uid", item.UID, "error", err)
		}
	}
	item.Blob = committed
	return nil
}

// rewriteCalendarPart replaces the text/calendar content of one digest part
// with the series component, leaving the rest of the part intact. Handles
// both bare text/calendar parts and single-level multipart bodies.
func (e *Engine) rewriteCalendarPart(body []byte, item *CalendarItem) ([]byte, error) {
	series := item.SeriesInvite()
	if series == nil {
		return nil, fmt.Errorf("no series invite to rewrite from")
	}
	calBytes, err := series.EncodeICalendar()
	if err != nil {
		return nil, err
	}

	msg, err := mail.ReadMessage(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parsing part message: %w", err)
	}
	mediaType, params, err := mime.ParseMediaType(msg.Header.Get("Content-Type"))
	if err != nil {
		mediaType = "text/plain"
	}

	var out bytes.Buffer
	writeHeaders := func(boundary string) {
		for key, values := range msg.Header {
			for _, v := range values {
				if boundary != "" && strings.EqualFold(key, "Content-Type") {
					v = fmt.Sprintf("%s; boundary=%q", mediaType, boundary)
				}
				fmt.Fprintf(&out, "%s: %s\r\n", key, v)
			}
		}
		out.WriteString("\r\n")
	}

	if strings.EqualFold(mediaType, "text/calendar") {
		writeHeaders("")
		out.Write(calBytes)
		return out.Bytes(), nil
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		mr := multipart.NewReader(msg.Body, params["boundary"])
		var rebuilt bytes.Buffer
		w := multipart.NewWriter(&rebuilt)
		for {
			p, err := mr.NextPart()
			if err == io.EOF {
				break
			}
			if err != nil {
				return nil, fmt.Errorf("reading sub-part: %w", err)
			}
			sub, err := io.ReadAll(p)
			if err != nil {
				return nil, err
			}
			subType, _, _ := mime.ParseMediaType(p.Header.Get("Content-Type"))
			if strings.EqualFold(subType, "text/calendar") {
				sub = calBytes
			}
			pw, err := w.CreatePart(p.Header)
			if err != nil {
				return nil, err
			}
			if _, err := pw.Write(sub); err != nil {
				return nil, err
			}
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		writeHeaders(w.Boundary())
		out.Write(rebuilt.Bytes())
		return out.Bytes(), nil
	}

	return nil, fmt.Errorf("part has no calendar content (%s)", mediaType)
}
