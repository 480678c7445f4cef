package coordinator_client

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/mobflare/mobflare/go/clients"
	"github.com/mobflare/mobflare/go/internal/flare"
)

// CoordinatorClient talks HTTP+JSON to the flare coordinator. It is safe for
// use by one screen at a time; CancelInFlight aborts that screen's pending
// request.
type CoordinatorClient struct {
	*clients.BaseClient
	clientVersion int
}

func NewCoordinatorClient(serverURI string, clientVersion int) *CoordinatorClient {
	if serverURI == "" {
		serverURI = DefaultServerURI
	}
	client := &CoordinatorClient{
		BaseClient:    clients.NewBaseClient(serverURI),
		clientVersion: clientVersion,
	}

	client.SetHeader(UserAgentHeader, fmt.Sprintf("mobflare-go/%d", clientVersion))
	client.SetHeader(ContentTypeHeader, ContentTypeJSON)

	return client
}

// ClientVersion is the version reported on list calls.
func (c *CoordinatorClient) ClientVersion() int {
	return c.clientVersion
}

// CancelInFlight aborts the outstanding request, if any, and reports whether
// there was one.
func (c *CoordinatorClient) CancelInFlight() bool {
	return c.BaseClient.CancelInFlight()
}

// translate maps transport outcomes onto the flare error taxonomy. special
// lists the status codes that have an operation specific meaning.
func translate(op string, err error, special map[int]error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, clients.ErrAborted) {
		return fmt.Errorf("%s: %w", op, flare.ErrCancelled)
	}
	code := clients.StatusCode(err)
	if sentinel, ok := special[code]; ok {
		return fmt.Errorf("%s: %w", op, sentinel)
	}
	if code == http.StatusForbidden {
		return fmt.Errorf("%s: %w", op, flare.ErrObsoleteClient)
	}
	return fmt.Errorf("%s: %w: %w", op, flare.ErrTransient, err)
}
