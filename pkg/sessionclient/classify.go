package sessionclient

import (
	"net/http"

	"go.uber.org/zap"
)

// Response classifications. Auth rejections drive the dispatcher's own state
// machine; these remaining classes are logged and left to the caller.
const (
	ClassServerError      = "server_error"
	ClassPermissionDenied = "permission_denied"
	ClassNotFound         = "not_found"
)

// ClassifyStatus maps a status code to its classification, or "" for
// statuses the client has nothing to say about.
func ClassifyStatus(status int) string {
	switch {
	case status >= http.StatusInternalServerError:
		return ClassServerError
	case status == http.StatusForbidden:
		return ClassPermissionDenied
	case status == http.StatusNotFound:
		return ClassNotFound
	default:
		return ""
	}
}

func (client *Client) observeResponse(replayable *replayableRequest, response *http.Response) {
	classification := ClassifyStatus(response.StatusCode)
	if classification == "" {
		return
	}
	client.logger.Warn("request ended in a classified failure",
		zap.String("classification", classification),
		zap.Int("status", response.StatusCode),
		zap.String("method", replayable.method),
		zap.String("url", replayable.url))
}
