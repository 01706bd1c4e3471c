package lnurlpay

import (
	"crypto/sha256"
	"encoding/json"

	"github.com/lightningnetwork/lnd/lntypes"
)

// EntryKind is the mime type of a metadata entry.
type EntryKind string

const (
	// EntryPlainText is the short description of the payment.
	EntryPlainText EntryKind = "text/plain"

	// EntryLongDesc is a long form description.
	EntryLongDesc EntryKind = "text/long-desc"

	// EntryPNG is a base64 encoded png image.
	EntryPNG EntryKind = "image/png;base64"

	// EntryJPEG is a base64 encoded jpeg image.
	EntryJPEG EntryKind = "image/jpeg;base64"
)

var knownEntryKinds = map[EntryKind]bool{
	EntryPlainText: true,
	EntryLongDesc:  true,
	EntryPNG:       true,
	EntryJPEG:      true,
}

// MetadataEntry is a single [type, content] pair of the metadata array.
type MetadataEntry struct {
	Kind EntryKind

	// Content is passed through as is. For images it is still base64.
	Content string
}

// IsImage returns true if the entry carries inline image data.
func (e MetadataEntry) IsImage() bool {
	return e.Kind == EntryPNG || e.Kind == EntryJPEG
}

// CanonicalBytes returns the bytes the invoice description hash commits to.
// That is the metadata string exactly as the service advertised it.
func CanonicalBytes(raw string) []byte {
	return []byte(raw)
}

// MetadataHash is the SHA-256 of the canonical metadata bytes.
func MetadataHash(raw string) lntypes.Hash {
	return sha256.Sum256(CanonicalBytes(raw))
}

// ParseEntries parses the metadata for display. Any malformed input yields an
// empty list since display must never influence the payment decision.
func ParseEntries(raw string) []MetadataEntry {
	var pairs [][]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &pairs); err != nil {
		log.Debugf("Unable to parse metadata for display: %v", err)
		return nil
	}

	entries := make([]MetadataEntry, 0, len(pairs))
	for _, pair := range pairs {
		if len(pair) != 2 {
			log.Debugf("Metadata entry has %d elements, "+
				"expected 2", len(pair))
			return nil
		}

		var kind, content string
		if err := json.Unmarshal(pair[0], &kind); err != nil {
			return nil
		}
		if err := json.Unmarshal(pair[1], &content); err != nil {
			return nil
		}

		if !knownEntryKinds[EntryKind(kind)] {
			continue
		}

		entries = append(entries, MetadataEntry{
			Kind:    EntryKind(kind),
			Content: content,
		})
	}

	return entries
}

// Describe returns the text/plain description among entries, if any.
func Describe(entries []MetadataEntry) string {
	for _, e := range entries {
		if e.Kind == EntryPlainText {
			return e.Content
		}
	}

	return ""
}
