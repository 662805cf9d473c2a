package workspace

import (
	"regexp"

	"github.com/google/uuid"
)

var (
	hyphenatedUUIDPattern = regexp.MustCompile(`[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`)
	// Notion page URLs end in "<slug>-<32 hex>"; the lookarounds Go lacks are
	// replaced by requiring a non-hex byte (or an edge) on both sides.
	bareUUIDPattern = regexp.MustCompile(`(?:^|[^0-9a-fA-F])([0-9a-fA-F]{32})(?:$|[^0-9a-fA-F])`)
)

// ExtractNotionDatabaseID pulls a database id out of a Notion URL and returns
// it in lower-case hyphenated form. Unparsable input yields "".
func ExtractNotionDatabaseID(notionURL string) string {
	if notionURL == "" {
		return ""
	}
	if m := hyphenatedUUIDPattern.FindString(notionURL); m != "" {
		if id, err := uuid.Parse(m); err == nil {
			return id.String()
		}
	}
	if m := bareUUIDPattern.FindStringSubmatch(notionURL); len(m) == 2 {
		if id, err := uuid.Parse(m[1]); err == nil {
			return id.String()
		}
	}
	return ""
}
