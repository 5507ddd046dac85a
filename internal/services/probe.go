package services

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/acbeers/mastodonlm/internal/shared"
	"github.com/tidwall/gjson"
)

// maxProbeBody bounds how much of an instance document is read.
const maxProbeBody = 1 << 20

// Instance is the subset of /api/v1/instance the probe checks.
type Instance struct {
	URI     string
	Title   string
	Version string
}

// Probe fetches /api/v1/instance and checks that it looks like a Mastodon instance document.
//
// A host that cannot be reached wraps [shared.ErrBadHost]. A host that answers with anything else
// (an edge proxy challenge page, an HTML error, JSON without a version) wraps [shared.ErrNotMastodon].
func (s *MastodonService) Probe(ctx context.Context) (*Instance, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/api/v1/instance", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, transportError(s.host, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProbeBody))
	if err != nil {
		return nil, transportError(s.host, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s answered %d", shared.ErrNotMastodon, s.host, resp.StatusCode)
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%w: %s returned a non-JSON instance document", shared.ErrNotMastodon, s.host)
	}

	doc := gjson.ParseBytes(body)
	version := doc.Get("version")
	if !doc.IsObject() || version.Type != gjson.String || version.String() == "" {
		return nil, fmt.Errorf("%w: %s instance document has no version", shared.ErrNotMastodon, s.host)
	}

	uri := doc.Get("uri").String()
	if uri == "" {
		uri = doc.Get("domain").String()
	}

	return &Instance{URI: uri, Title: doc.Get("title").String(), Version: version.String()}, nil
}
