package backup

import (
	"os"
	"strings"

	"github.com/tableau-tools/tabsync/internal/tableau"
)

// ShouldDownload reports whether the content item at target needs a fetch.
// With overwrite disabled, an existing local copy is kept as-is and no
// network transfer happens for it.
func ShouldDownload(target string, overwrite bool) bool {
	if overwrite {
		return true
	}
	_, err := os.Stat(target)
	return err != nil
}

// SanitizeName converts a project or content name into a single path
// segment: spaces become underscores, and path separators are replaced so a
// name like "Sales/EMEA" cannot escape into a nested directory.
func SanitizeName(name string) string {
	r := strings.NewReplacer(" ", "_", "/", "_", "\\", "_")
	return r.Replace(name)
}

// targetName returns the local filename for a content item.
func targetName(item tableau.ContentItem) string {
	return SanitizeName(item.Name) + "." + item.Kind.Ext()
}
