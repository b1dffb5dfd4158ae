package login

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Identity is the account described by the identity endpoint.
type Identity struct {
	UserID      string
	Nickname    string
	Description string
	Gender      int
	AvatarURL   string
	RedID       string
	Guest       bool
}

type identityResponse struct {
	Success bool          `json:"success"`
	Data    *identityData `json:"data"`
}

// identityData accepts both the snake_case and camelCase spellings the
// endpoint has used.
type identityData struct {
	UserID    string `json:"user_id"`
	UserIDAlt string `json:"userId"`
	Nickname  string `json:"nickname"`
	Desc      string `json:"desc"`
	Gender    int    `json:"gender"`
	Image     string `json:"image"`
	Images    string `json:"images"`
	ImageB    string `json:"imageb"`
	RedID     string `json:"red_id"`
	RedIDAlt  string `json:"redId"`
	Guest     bool   `json:"guest"`
}

// ParseIdentity decodes an identity response body. ok is true only for a
// successful response naming a non-guest user; anything else means the
// caller should keep waiting.
func ParseIdentity(body []byte) (id Identity, ok bool, err error) {
	var resp identityResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return Identity{}, false, fmt.Errorf("login: decode identity: %w", err)
	}
	if !resp.Success || resp.Data == nil {
		return Identity{}, false, nil
	}
	d := resp.Data
	id = Identity{
		UserID:      firstNonEmpty(d.UserID, d.UserIDAlt),
		Nickname:    d.Nickname,
		Description: d.Desc,
		Gender:      d.Gender,
		AvatarURL:   firstNonEmpty(d.Images, d.Image, d.ImageB),
		RedID:       firstNonEmpty(d.RedID, d.RedIDAlt),
		Guest:       d.Guest,
	}
	return id, !id.Guest && id.UserID != "", nil
}

// UserIDFromProfileHref extracts the id from a "/user/profile/<id>" link.
func UserIDFromProfileHref(href string) (string, bool) {
	i := strings.Index(href, profilePathPrefix)
	if i < 0 {
		return "", false
	}
	id := href[i+len(profilePathPrefix):]
	if j := strings.IndexAny(id, "?/#"); j >= 0 {
		id = id[:j]
	}
	return id, id != ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
