package imports

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rivo/uniseg"

	"Agora/internal/core/votes"
)

const (
	// MaxTitleLength is the longest conversation title accepted.
	MaxTitleLength = 140

	// maxBodyLength leaves room below the 3000 character body limit for
	// the provenance lines appended to imported descriptions.
	maxBodyLength = 2500

	titleEllipsis = " [...]"
	bodyEllipsis  = " [...]."
)

// Origin describes where a RemoteConversation came from.
type Origin struct {
	// Ref is set for URL imports.
	Ref *PolisRef
}

// BuildDraft turns fetched or parsed Polis data into a conversation draft.
// The title is trimmed to MaxTitleLength and the description gets a
// provenance footer naming the source URLs.
func BuildDraft(rc *RemoteConversation, origin Origin) (*ConversationDraft, error) {
	if rc == nil || len(rc.Comments) == 0 {
		return nil, ErrEmptyConversation
	}
	meta := rc.Conversation

	draft := &ConversationDraft{
		Title:          trimTitle(strings.TrimSpace(meta.Topic)),
		OriginalAuthor: meta.OwnerName,
	}
	if draft.Title == "" {
		return nil, fmt.Errorf("%w: conversation has no topic", ErrInvalidCSV)
	}
	if meta.CreatedMillis != nil {
		created := time.UnixMilli(*meta.CreatedMillis).UTC()
		draft.OriginalCreatedAt = &created
	}

	var footer []string
	switch {
	case origin.Ref == nil:
		draft.ConversationURL = meta.LinkURL
		footer = append(footer, "This conversation was imported from a Polis CSV export.")
		if draft.ConversationURL != "" {
			footer = append(footer, fmt.Sprintf("The original conversation url is %s.", draft.ConversationURL))
		}
	case origin.Ref.Kind == RefConversation:
		draft.ImportURL = origin.Ref.URL
		draft.ConversationURL = origin.Ref.URL
		footer = append(footer, fmt.Sprintf("This conversation was initially imported from %s.", origin.Ref.URL))
		if rc.ReportID != "" {
			draft.ReportURL = "https://pol.is/report/" + rc.ReportID
			footer = append(footer, fmt.Sprintf("The original report url is %s.", draft.ReportURL))
		}
	default:
		draft.ImportURL = origin.Ref.URL
		draft.ReportURL = origin.Ref.URL
		switch {
		case meta.LinkURL != "":
			draft.ConversationURL = meta.LinkURL
		case meta.ConversationID != "":
			draft.ConversationURL = "https://pol.is/" + meta.ConversationID
		}
		footer = append(footer, fmt.Sprintf("This conversation was initially imported from %s.", origin.Ref.URL))
		if draft.ConversationURL != "" {
			footer = append(footer, fmt.Sprintf("The original conversation url is %s.", draft.ConversationURL))
		}
	}
	if meta.OwnerName != "" {
		footer = append(footer, fmt.Sprintf("The original author is %q.", meta.OwnerName))
	}
	if draft.OriginalCreatedAt != nil {
		footer = append(footer, fmt.Sprintf("The original creation date is %s.", draft.OriginalCreatedAt.Format("Mon Jan 02 2006")))
	}
	footer = append(footer, "The data in the Analysis tab has been completely recalculated by Agora.")

	draft.Body = trimBody(meta.Description) + "<br /><br />--------------<br />" + strings.Join(footer, "<br />")

	for _, c := range rc.Comments {
		draft.Opinions = append(draft.Opinions, DraftOpinion{
			ExternalID:  strconv.FormatInt(c.StatementID, 10),
			Participant: strconv.FormatInt(c.ParticipantID, 10),
			Body:        c.Text,
			CreatedAt:   time.UnixMilli(c.CreatedMillis).UTC(),
			Moderated:   c.Moderated,
		})
	}
	for _, v := range rc.Votes {
		value, err := votes.ValueFromPolisCode(v.Vote)
		if err != nil {
			return nil, fmt.Errorf("%w: participant %d statement %d: %v", ErrInvalidCSV, v.ParticipantID, v.StatementID, err)
		}
		dv := DraftVote{
			Participant: strconv.FormatInt(v.ParticipantID, 10),
			OpinionID:   strconv.FormatInt(v.StatementID, 10),
			Value:       value,
		}
		if v.ModifiedMillis > 0 {
			dv.CastAt = time.UnixMilli(int64(v.ModifiedMillis)).UTC()
		}
		draft.Votes = append(draft.Votes, dv)
	}
	return draft, nil
}

func trimTitle(s string) string {
	if uniseg.GraphemeClusterCount(s) <= MaxTitleLength {
		return s
	}
	return truncateGraphemes(s, MaxTitleLength-len(titleEllipsis)) + titleEllipsis
}

func trimBody(s string) string {
	if uniseg.GraphemeClusterCount(s) <= maxBodyLength {
		return s
	}
	return truncateGraphemes(s, maxBodyLength) + bodyEllipsis
}

// truncateGraphemes keeps the first n user-perceived characters of s, so a
// cut never splits an emoji or a letter from its combining marks.
func truncateGraphemes(s string, n int) string {
	g := uniseg.NewGraphemes(s)
	end := 0
	for i := 0; i < n && g.Next(); i++ {
		_, end = g.Positions()
	}
	return s[:end]
}
