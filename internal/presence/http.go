package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"time"

	"github.com/mossy-p/meshcall/internal/models"
)

// HTTP reads presence from the relay server's presence endpoint.
type HTTP struct {
	// BaseURL is the server root, e.g. http://localhost:8080.
	BaseURL string
	Client  *http.Client
}

func NewHTTP(baseURL string) *HTTP {
	return &HTTP{BaseURL: baseURL, Client: &http.Client{Timeout: 5 * time.Second}}
}

func (h *HTTP) IsPresent(ctx context.Context, roomID, userID string) (bool, error) {
	endpoint := h.BaseURL + "/api/rooms/" + url.PathEscape(roomID) + "/presence"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, err
	}
	resp, err := h.Client.Do(req)
	if err != nil {
		return false, fmt.Errorf("read presence of %s: %w", roomID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("read presence of %s: %s", roomID, resp.Status)
	}
	var body models.PresenceResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false, fmt.Errorf("decode presence of %s: %w", roomID, err)
	}
	return slices.Contains(body.PresentUserIDs, userID), nil
}
