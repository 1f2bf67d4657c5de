package imports

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// Column sets of the Polis CSV exports.
var (
	commentColumns = []string{"timestamp", "datetime", "comment-id", "author-id", "agrees", "disagrees", "moderated", "comment-body"}
	voteColumns    = []string{"timestamp", "datetime", "comment-id", "voter-id", "vote"}
)

// PolisSummary is the key/value summary export.
type PolisSummary struct {
	Topic        string
	URL          string
	Description  string
	Views        int
	Voters       int
	VotersInConv int
	Commenters   int
	Comments     int
	Groups       int
}

// PolisComment is a row of the comments export.
type PolisComment struct {
	CreatedAt time.Time
	Body      string
	ID        int64
	AuthorID  int64
	Agrees    int
	Disagrees int
	Moderated int
}

// PolisVote is a row of the votes export.
type PolisVote struct {
	CastAt    time.Time
	CommentID int64
	VoterID   int64
	Vote      int
}

// ParseSummary reads the two-column summary export, which has no header.
func ParseSummary(content string) (*PolisSummary, error) {
	r := newReader(content)
	values := make(map[string]string)
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: summary: %v", ErrInvalidCSV, err)
		}
		if len(row) >= 2 {
			values[strings.TrimSpace(row[0])] = strings.TrimSpace(row[1])
		}
	}

	s := &PolisSummary{
		Topic:       values["topic"],
		URL:         values["url"],
		Description: values["conversation-description"],
	}
	if s.Topic == "" {
		return nil, fmt.Errorf("%w: summary: missing topic", ErrInvalidCSV)
	}

	counts := []struct {
		key string
		dst *int
	}{
		{"views", &s.Views},
		{"voters", &s.Voters},
		{"voters-in-conv", &s.VotersInConv},
		{"commenters", &s.Commenters},
		{"comments", &s.Comments},
		{"groups", &s.Groups},
	}
	for _, c := range counts {
		n, err := strconv.Atoi(values[c.key])
		if err != nil || n < 0 {
			return nil, fmt.Errorf("%w: summary: %s must be a non-negative integer, got %q", ErrInvalidCSV, c.key, values[c.key])
		}
		*c.dst = n
	}
	return s, nil
}

// ParseComments reads the comments export. Every row must validate; the
// error lists the first failing rows.
func ParseComments(content string) ([]PolisComment, error) {
	rows, err := readTable("comments", content, commentColumns)
	if err != nil {
		return nil, err
	}

	var out []PolisComment
	var problems []string
	for i, row := range rows {
		c, err := parseComment(row)
		if err != nil {
			problems = append(problems, fmt.Sprintf("row %d: %v", i+2, err))
			continue
		}
		out = append(out, c)
	}
	if len(problems) > 0 {
		return nil, fmt.Errorf("%w: comments: %s", ErrInvalidCSV, summarize(problems))
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: comments: no data rows", ErrInvalidCSV)
	}
	return out, nil
}

func parseComment(row map[string]string) (PolisComment, error) {
	var c PolisComment
	var err error
	if c.CreatedAt, err = parseTimestamp(row["timestamp"]); err != nil {
		return c, err
	}
	if c.ID, err = parseInt64("comment-id", row["comment-id"]); err != nil {
		return c, err
	}
	if c.AuthorID, err = parseInt64("author-id", row["author-id"]); err != nil {
		return c, err
	}
	if c.Agrees, err = parseCount("agrees", row["agrees"]); err != nil {
		return c, err
	}
	if c.Disagrees, err = parseCount("disagrees", row["disagrees"]); err != nil {
		return c, err
	}
	if c.Moderated, err = parseTernary("moderated", row["moderated"]); err != nil {
		return c, err
	}
	c.Body = row["comment-body"]
	return c, nil
}

// ParseVotes reads the votes export. Duplicate (voter, comment) rows are
// collapsed and the row appearing last wins.
func ParseVotes(content string) ([]PolisVote, error) {
	rows, err := readTable("votes", content, voteColumns)
	if err != nil {
		return nil, err
	}

	type pair struct{ voter, comment int64 }
	index := make(map[pair]int)
	var out []PolisVote
	var problems []string

	for i, row := range rows {
		var v PolisVote
		var err error
		if v.CastAt, err = parseTimestamp(row["timestamp"]); err == nil {
			if v.CommentID, err = parseInt64("comment-id", row["comment-id"]); err == nil {
				if v.VoterID, err = parseInt64("voter-id", row["voter-id"]); err == nil {
					v.Vote, err = parseTernary("vote", row["vote"])
				}
			}
		}
		if err != nil {
			problems = append(problems, fmt.Sprintf("row %d: %v", i+2, err))
			continue
		}

		key := pair{v.VoterID, v.CommentID}
		if at, ok := index[key]; ok {
			out[at] = v
			continue
		}
		index[key] = len(out)
		out = append(out, v)
	}
	if len(problems) > 0 {
		return nil, fmt.Errorf("%w: votes: %s", ErrInvalidCSV, summarize(problems))
	}
	return out, nil
}

// ConversationFromCSV parses all three files into the same shape the bridge
// returns for URL imports. Votes on comments missing from the comments
// export are rejected.
func ConversationFromCSV(files CSVFiles) (*RemoteConversation, error) {
	summary, err := ParseSummary(files.Summary)
	if err != nil {
		return nil, err
	}
	comments, err := ParseComments(files.Comments)
	if err != nil {
		return nil, err
	}
	polisVotes, err := ParseVotes(files.Votes)
	if err != nil {
		return nil, err
	}

	voters := summary.Voters
	rc := &RemoteConversation{
		Conversation: RemoteConversationMeta{
			Topic:            summary.Topic,
			Description:      summary.Description,
			LinkURL:          summary.URL,
			ParticipantCount: &voters,
		},
	}

	known := make(map[int64]bool, len(comments))
	for _, c := range comments {
		known[c.ID] = true
		rc.Comments = append(rc.Comments, RemoteComment{
			StatementID:   c.ID,
			ParticipantID: c.AuthorID,
			Text:          c.Body,
			Moderated:     c.Moderated,
			CreatedMillis: c.CreatedAt.UnixMilli(),
		})
	}
	for _, v := range polisVotes {
		if !known[v.CommentID] {
			return nil, fmt.Errorf("%w: votes: comment-id %d not present in comments file", ErrInvalidCSV, v.CommentID)
		}
		rc.Votes = append(rc.Votes, RemoteVote{
			StatementID:    v.CommentID,
			ParticipantID:  v.VoterID,
			Vote:           v.Vote,
			ModifiedMillis: float64(v.CastAt.UnixMilli()),
		})
	}
	return rc, nil
}

func newReader(content string) *csv.Reader {
	r := csv.NewReader(strings.NewReader(strings.TrimPrefix(content, "\ufeff")))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true
	return r
}

// readTable reads a headed CSV into maps, checking that every required
// column is present. Extra columns such as "importance" are ignored.
func readTable(name, content string, required []string) ([]map[string]string, error) {
	r := newReader(content)
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: missing header: %v", ErrInvalidCSV, name, err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.TrimSpace(h)] = i
	}
	for _, c := range required {
		if _, ok := cols[c]; !ok {
			return nil, fmt.Errorf("%w: %s: missing column %q", ErrInvalidCSV, name, c)
		}
	}

	var rows []map[string]string
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidCSV, name, err)
		}
		row := make(map[string]string, len(cols))
		for col, i := range cols {
			if i < len(rec) {
				row[col] = strings.TrimSpace(rec[i])
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// parseTimestamp accepts Unix seconds or milliseconds.
func parseTimestamp(raw string) (time.Time, error) {
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("timestamp must be an integer, got %q", raw)
	}
	if n > 1e11 {
		return time.UnixMilli(n).UTC(), nil
	}
	return time.Unix(n, 0).UTC(), nil
}

func parseInt64(field, raw string) (int64, error) {
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", field, raw)
	}
	return n, nil
}

func parseCount(field, raw string) (int, error) {
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer, got %q", field, raw)
	}
	return n, nil
}

func parseTernary(field, raw string) (int, error) {
	n, err := strconv.Atoi(raw)
	if err != nil || n < -1 || n > 1 {
		return 0, fmt.Errorf("%s must be -1, 0, or 1, got %q", field, raw)
	}
	return n, nil
}

func summarize(problems []string) string {
	const max = 5
	if len(problems) <= max {
		return strings.Join(problems, "; ")
	}
	return fmt.Sprintf("%s; and %d more", strings.Join(problems[:max], "; "), len(problems)-max)
}
