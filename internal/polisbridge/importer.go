package polisbridge

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"Agora/internal/core/imports"
)

// FetchConversation loads a conversation or report through the bridge's
// /import endpoint. A refusal or an unusable body is reported as
// imports.ErrRemoteRejected. Outages and timeouts are returned as-is.
func (c *Client) FetchConversation(ctx context.Context, ref imports.PolisRef) (*imports.RemoteConversation, error) {
	query := url.Values{}
	switch ref.Kind {
	case imports.RefReport:
		query.Set("report_id", ref.ID)
	case imports.RefConversation:
		query.Set("conversation_id", ref.ID)
	default:
		return nil, fmt.Errorf("%w: unknown reference kind %q", imports.ErrRemoteRejected, ref.Kind)
	}

	var rc imports.RemoteConversation
	err := c.do(ctx, http.MethodGet, "/import", query, nil, &rc)

	var statusErr *StatusError
	var decodeErr *DecodeError
	switch {
	case errors.As(err, &statusErr) && statusErr.ClientError():
		return nil, fmt.Errorf("%w: %s %s: %v", imports.ErrRemoteRejected, ref.Kind, ref.ID, err)
	case errors.As(err, &decodeErr):
		return nil, fmt.Errorf("%w: %v", imports.ErrRemoteRejected, err)
	case err != nil:
		return nil, err
	}

	if rc.Conversation.Topic == "" && len(rc.Comments) == 0 {
		return nil, fmt.Errorf("%w: %s %s has no content", imports.ErrRemoteRejected, ref.Kind, ref.ID)
	}
	return &rc, nil
}

var _ imports.RemoteSource = (*Client)(nil)
