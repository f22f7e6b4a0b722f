package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// SHA256Hex returns the lowercase hex SHA-256 of data.
func SHA256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// TextSHA256 hashes the UTF-8 bytes of text.
func TextSHA256(text string) string {
	return SHA256Hex([]byte(text))
}

func shortHash(input string, n int) string {
	return TextSHA256(input)[:n]
}

// PageRecordID identifies one extracted page of one part.
func PageRecordID(part string, page int, method, textSHA string) string {
	return shortHash(fmt.Sprintf("%s:%d:%s:%s", part, page, method, textSHA), 24)
}

// BlockID identifies the ordinal-th block of a page record.
func BlockID(recordID string, ordinal int, textSHA string) string {
	return shortHash(fmt.Sprintf("%s:%d:%s", recordID, ordinal, textSHA), 24)
}

// UnitID builds the stable unit identifier, e.g. p06-p0012-para-003.
func UnitID(part string, page int, kind string, ordinal int) string {
	return fmt.Sprintf("%s-p%04d-%s-%03d", strings.ToLower(part), page, kind, ordinal)
}

// SliceID names the single slice carried by a unit.
func SliceID(unitID string) string {
	return unitID + "-s01"
}

// AnchorID derives the leaf anchor for a unit. It depends only on the
// edition, part, page, unit type and unit id, so re-running a stage over the
// same units yields the same anchors.
func AnchorID(namespace, edition, part string, page int, unitType, unitID string) string {
	digest := shortHash(fmt.Sprintf("%s|%s|%d|%s|%s", edition, part, page, unitType, unitID), 16)
	return fmt.Sprintf("%s:%s:%s", namespace, strings.ToLower(part), digest)
}

// ScopeAnchorID derives the anchor of a structural container.
func ScopeAnchorID(namespace, scopeType, part, value string) string {
	digest := shortHash(fmt.Sprintf("%s|%s|%s", scopeType, part, value), 12)
	return fmt.Sprintf("%s:%s:%s:%s", namespace, strings.ToLower(part), scopeType, digest)
}

// NormalizeForQuery collapses whitespace runs to one space and lowercases.
func NormalizeForQuery(text string) string {
	return strings.ToLower(strings.Join(strings.Fields(text), " "))
}
