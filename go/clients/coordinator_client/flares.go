package coordinator_client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"

	"github.com/mobflare/mobflare/go/clients"
	"github.com/mobflare/mobflare/go/internal/flare"
	"github.com/mobflare/mobflare/go/internal/models"
	"github.com/rs/zerolog/log"
)

type joinResponse struct {
	ParticipantNumber *int `json:"participantNumber"`
}

type createResponse struct {
	Name string `json:"name"`
}

func flarePath(name string) string {
	return FlareEndpoint + url.QueryEscape(name)
}

// ListFlares returns the names of flares within radiusKm of loc, nearest
// first. Equal distances keep the coordinator's order.
func (c *CoordinatorClient) ListFlares(ctx context.Context, loc models.Location, radiusKm float64) ([]string, error) {
	q := url.Values{}
	q.Set("latitude", strconv.FormatFloat(loc.Latitude, 'f', -1, 64))
	q.Set("longitude", strconv.FormatFloat(loc.Longitude, 'f', -1, 64))
	q.Set("radius", strconv.FormatFloat(radiusKm, 'f', -1, 64))
	q.Set("clientVersion", strconv.Itoa(c.clientVersion))

	body, err := c.Get(ctx, ListEndpoint+"?"+q.Encode())
	if err != nil {
		log.Error().Err(err).Msg("list flares failed")
		return nil, translate("list flares", err, nil)
	}

	var nearby []models.NearbyFlare
	if err := json.Unmarshal(body, &nearby); err != nil {
		return nil, fmt.Errorf("list flares: %w: failed to unmarshal response: %w", flare.ErrTransient, err)
	}

	sort.SliceStable(nearby, func(i, j int) bool {
		return nearby[i].DistanceKm < nearby[j].DistanceKm
	})

	names := make([]string, 0, len(nearby))
	for _, f := range nearby {
		names = append(names, f.Name)
	}
	return names, nil
}

// FetchFlare returns the current projection of a flare, or nil when the
// coordinator does not know it (not created yet, or expired).
func (c *CoordinatorClient) FetchFlare(ctx context.Context, name string) (*models.Flare, error) {
	body, err := c.Get(ctx, flarePath(name))
	if err != nil {
		if clients.StatusCode(err) == http.StatusNotFound {
			return nil, nil
		}
		log.Error().Err(err).Str("flare", name).Msg("fetch flare failed")
		return nil, translate("fetch flare", err, nil)
	}

	var f models.Flare
	if err := json.Unmarshal(body, &f); err != nil {
		return nil, fmt.Errorf("fetch flare: %w: failed to unmarshal response: %w", flare.ErrTransient, err)
	}
	if f.Name == "" {
		f.Name = name
	}
	return &f, nil
}

// JoinFlare registers this client as a participant and returns its 0-based
// join index.
func (c *CoordinatorClient) JoinFlare(ctx context.Context, name string) (int, error) {
	body, err := c.Post(ctx, flarePath(name), nil)
	if err != nil {
		log.Error().Err(err).Str("flare", name).Msg("join flare failed")
		return 0, translate("join flare", err, map[int]error{
			http.StatusNotFound: flare.ErrInvalidSession,
		})
	}

	var resp joinResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("join flare: %w: failed to unmarshal response: %w", flare.ErrTransient, err)
	}
	if resp.ParticipantNumber == nil {
		return 0, fmt.Errorf("join flare: %w: response missing %s", flare.ErrTransient, models.KeyParticipantNumber)
	}
	return *resp.ParticipantNumber, nil
}

// CreateFlare creates a flare with the given properties and returns the name
// the coordinator confirmed.
func (c *CoordinatorClient) CreateFlare(ctx context.Context, name string, props map[string]interface{}) (string, error) {
	payload, err := json.Marshal(props)
	if err != nil {
		return "", fmt.Errorf("create flare: failed to marshal properties: %w", err)
	}

	body, err := c.Put(ctx, flarePath(name), bytes.NewReader(payload))
	if err != nil {
		log.Error().Err(err).Str("flare", name).Msg("create flare failed")
		return "", translate("create flare", err, map[int]error{
			http.StatusConflict: flare.ErrDuplicateName,
		})
	}

	var resp createResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("create flare: %w: failed to unmarshal response: %w", flare.ErrTransient, err)
	}
	if resp.Name == "" {
		return "", fmt.Errorf("create flare: %w: response missing name", flare.ErrTransient)
	}
	return resp.Name, nil
}
