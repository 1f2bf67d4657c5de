package exports

import (
	"fmt"
	"time"
)

const objectPrefix = "exports/conversations/"

// ObjectKey is where a file of an export lives in the bucket.
func ObjectKey(conversationSlugID, exportSlugID, fileType string) string {
	return fmt.Sprintf("%s%s/%s/%s.csv", objectPrefix, conversationSlugID, exportSlugID, fileType)
}

// FileName is the stored name of a file type.
func FileName(fileType string) string {
	return fileType + ".csv"
}

// DownloadName is the attachment filename, stamped with the export's
// creation time in UTC.
func DownloadName(conversationSlugID, fileType string, createdAt time.Time) string {
	return fmt.Sprintf("%s-%s-%s.csv", conversationSlugID, fileType, createdAt.UTC().Format("20060102-150405"))
}
