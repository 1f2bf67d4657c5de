package exports

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNaming(t *testing.T) {
	assert.Equal(t, "exports/conversations/abc123/e-1/votes.csv", ObjectKey("abc123", "e-1", "votes"))
	assert.Equal(t, "comments.csv", FileName("comments"))

	created := time.Date(2024, 1, 2, 23, 4, 5, 0, time.FixedZone("PST", -8*3600))
	assert.Equal(t, "abc123-comments-20240103-070405.csv", DownloadName("abc123", "comments", created))
}
