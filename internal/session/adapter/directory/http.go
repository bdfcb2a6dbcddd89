package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"teamcards/internal/domain"
)

// HTTP reads profiles from a REST directory at GET {base}/profiles/{id}.
// A 404 means the identity has no profile.
type HTTP struct {
	base       string
	httpClient *http.Client
}

func NewHTTP(base string, hc *http.Client) *HTTP {
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTP{base: strings.TrimRight(base, "/"), httpClient: hc}
}

func (d *HTTP) FindProfileByIdentity(ctx context.Context, id domain.Identity) (*domain.Profile, error) {
	endpoint := d.base + "/profiles/" + url.PathEscape(id.ID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("creating directory request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("directory request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		io.Copy(io.Discard, resp.Body)
		return nil, nil
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("directory returned %d", resp.StatusCode)
	}

	var p domain.Profile
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&p); err != nil {
		return nil, fmt.Errorf("decoding profile: %w", err)
	}
	if p.IdentityKey == "" {
		p.IdentityKey = id.ID
	}
	if p.IdentityKey != id.ID {
		return nil, fmt.Errorf("directory returned profile for %q, asked for %q", p.IdentityKey, id.ID)
	}
	return &p, nil
}
