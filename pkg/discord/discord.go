// Package discord provides the minimal Discord REST client needed for role
// reconciliation.
package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/SpectacleRBX/SpectacleBot/pkg/config"
)

// Error sentinels for Discord operations.
var (
	// ErrAPI indicates a failure calling the Discord API.
	ErrAPI = errors.New("Discord API error")

	// ErrMemberNotFound indicates the user is not a member of the guild.
	ErrMemberNotFound = errors.New("guild member not found")
)

// Default HTTP timeout.
const defaultTimeout = 30 * time.Second

// Member is a guild member with their current role set.
type Member struct {
	// UserID is the member's Discord user ID.
	UserID int64

	// Username is the member's account name.
	Username string

	// Roles are the role IDs the member currently holds, in guild order.
	Roles []int64
}

// HasRole reports whether the member currently holds the role.
func (m *Member) HasRole(roleID int64) bool {
	for _, r := range m.Roles {
		if r == roleID {
			return true
		}
	}

	return false
}

// Client provides guild member and role operations.
type Client struct {
	log        logrus.FieldLogger
	token      string
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new Discord REST client.
func NewClient(log logrus.FieldLogger, cfg config.DiscordConfig) *Client {
	return &Client{
		log:     log.WithField("component", "discord_client"),
		token:   cfg.BotToken,
		baseURL: cfg.APIBase,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
}

// wire types: Discord serializes snowflakes as decimal strings.

type memberResponse struct {
	User struct {
		ID       string `json:"id"`
		Username string `json:"username"`
	} `json:"user"`
	Roles []string `json:"roles"`
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// memberNotFoundCode is Discord's "Unknown Member" error code.
const memberNotFoundCode = 10007

// GuildMember fetches a guild member. Returns ErrMemberNotFound when the
// user does not belong to the guild.
func (c *Client) GuildMember(ctx context.Context, guildID, userID int64) (*Member, error) {
	endpoint := fmt.Sprintf("%s/guilds/%d/members/%d", c.baseURL, guildID, userID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: creating request: %v", ErrAPI, err)
	}

	c.setAuthHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: fetching member: %v", ErrAPI, err)
	}

	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", ErrAPI, err)
	}

	if resp.StatusCode == http.StatusNotFound {
		var apiErr apiError
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Code != 0 && apiErr.Code != memberNotFoundCode {
			return nil, fmt.Errorf("%w: code %d: %s", ErrAPI, apiErr.Code, apiErr.Message)
		}

		return nil, ErrMemberNotFound
	}

	if resp.StatusCode != http.StatusOK {
		c.log.WithFields(logrus.Fields{
			"status_code": resp.StatusCode,
			"guild_id":    guildID,
			"user_id":     userID,
		}).Error("Discord member fetch failed")

		return nil, fmt.Errorf("%w: status %d", ErrAPI, resp.StatusCode)
	}

	var memberResp memberResponse
	if err := json.Unmarshal(body, &memberResp); err != nil {
		return nil, fmt.Errorf("%w: parsing response: %v", ErrAPI, err)
	}

	return memberFromResponse(&memberResp)
}

// AddMemberRoles grants roles to a member in one batched call by patching
// the member's role list to the union of current and added roles. The reason
// appears in the guild audit log.
func (c *Client) AddMemberRoles(ctx context.Context, guildID int64, member *Member, add []int64, reason string) error {
	if len(add) == 0 {
		return nil
	}

	merged := make([]string, 0, len(member.Roles)+len(add))
	for _, r := range member.Roles {
		merged = append(merged, strconv.FormatInt(r, 10))
	}

	for _, r := range add {
		if !member.HasRole(r) {
			merged = append(merged, strconv.FormatInt(r, 10))
		}
	}

	payload, err := json.Marshal(map[string][]string{"roles": merged})
	if err != nil {
		return fmt.Errorf("%w: marshaling payload: %v", ErrAPI, err)
	}

	endpoint := fmt.Sprintf("%s/guilds/%d/members/%d", c.baseURL, guildID, member.UserID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: creating request: %v", ErrAPI, err)
	}

	c.setAuthHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	if reason != "" {
		req.Header.Set("X-Audit-Log-Reason", reason)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: patching member roles: %v", ErrAPI, err)
	}

	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		body, _ := io.ReadAll(resp.Body)

		c.log.WithFields(logrus.Fields{
			"status_code": resp.StatusCode,
			"guild_id":    guildID,
			"user_id":     member.UserID,
			"response":    string(body),
		}).Error("Discord role grant failed")

		return fmt.Errorf("%w: status %d", ErrAPI, resp.StatusCode)
	}

	return nil
}

func (c *Client) setAuthHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bot "+c.token)
	req.Header.Set("Accept", "application/json")
}

func memberFromResponse(resp *memberResponse) (*Member, error) {
	userID, err := strconv.ParseInt(resp.User.ID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing user id %q: %v", ErrAPI, resp.User.ID, err)
	}

	roles := make([]int64, 0, len(resp.Roles))

	for _, raw := range resp.Roles {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: parsing role id %q: %v", ErrAPI, raw, err)
		}

		roles = append(roles, id)
	}

	return &Member{
		UserID:   userID,
		Username: resp.User.Username,
		Roles:    roles,
	}, nil
}
