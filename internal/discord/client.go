package discord

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"modwatch/internal/models"
	"modwatch/internal/redis"
	"modwatch/internal/resolver"
)

const defaultBaseURL = "https://discord.com/api/v10"

// Client resolves users and guilds over the Discord REST API with a bot
// token. It implements resolver.Platform; nothing outside this package
// speaks the wire protocol.
type Client struct {
	log        *slog.Logger
	httpClient *http.Client
	redis      *redis.Client
	breaker    *CircuitBreaker
	limiter    *rate.Limiter
	retryCfg   RetryConfig
	botToken   string
	baseURL    string
}

func NewClient(log *slog.Logger, redisClient *redis.Client, botToken string) *Client {
	return &Client{
		log:        log,
		httpClient: newHTTPClient(),
		redis:      redisClient,
		breaker:    NewCircuitBreaker(),
		// Discord allows ~50 req/s per bot; stay under it
		limiter:  rate.NewLimiter(rate.Limit(40), 10),
		retryCfg: DefaultRetryConfig(),
		botToken: botToken,
		baseURL:  defaultBaseURL,
	}
}

// restUser mirrors the Discord user object for the fields we track.
type restUser struct {
	ID            string `json:"id"`
	Username      string `json:"username"`
	Discriminator string `json:"discriminator"`
	GlobalName    string `json:"global_name"`
	Avatar        string `json:"avatar"`
	Bot           bool   `json:"bot"`
}

type restMember struct {
	User restUser `json:"user"`
	Nick string   `json:"nick"`
}

type restGuild struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (c *Client) User(ctx context.Context, id uint64) (models.UserSnapshot, error) {
	cacheKey := fmt.Sprintf("discord_user:%d", id)
	if c.redis != nil {
		if cached, err := c.redis.Get(ctx, cacheKey); err == nil && cached != "" {
			var snap models.UserSnapshot
			if err := json.Unmarshal([]byte(cached), &snap); err == nil {
				c.log.Debug("user_fetched_from_cache", "user_id", id)
				return snap, nil
			}
		}
	}

	body, err := c.doGET(ctx, fmt.Sprintf("/users/%d", id))
	if err != nil {
		return models.UserSnapshot{}, err
	}

	var u restUser
	if err := json.Unmarshal(body, &u); err != nil {
		return models.UserSnapshot{}, fmt.Errorf("failed_to_decode_response: %w", err)
	}

	snap := snapshotFromUser(u)
	c.cacheSnapshot(ctx, cacheKey, snap)

	c.log.Info("user_fetched", "user_id", id, "username", snap.Username)
	return snap, nil
}

func (c *Client) GuildUser(ctx context.Context, guildID, id uint64) (models.UserSnapshot, error) {
	// member responses carry the guild nickname, so they are never
	// served from the global user cache
	body, err := c.doGET(ctx, fmt.Sprintf("/guilds/%d/members/%d", guildID, id))
	if err != nil {
		return models.UserSnapshot{}, err
	}

	var m restMember
	if err := json.Unmarshal(body, &m); err != nil {
		return models.UserSnapshot{}, fmt.Errorf("failed_to_decode_response: %w", err)
	}

	snap := snapshotFromUser(m.User)
	gid := guildID
	snap.GuildID = &gid
	snap.Nickname = m.Nick

	c.log.Info("guild_member_fetched", "guild_id", guildID, "user_id", id, "username", snap.Username)
	return snap, nil
}

func (c *Client) Guild(ctx context.Context, guildID uint64) (models.Guild, error) {
	body, err := c.doGET(ctx, fmt.Sprintf("/guilds/%d", guildID))
	if err != nil {
		return models.Guild{}, err
	}

	var g restGuild
	if err := json.Unmarshal(body, &g); err != nil {
		return models.Guild{}, fmt.Errorf("failed_to_decode_response: %w", err)
	}

	gid, _ := strconv.ParseUint(g.ID, 10, 64)
	return models.Guild{ID: gid, Name: g.Name}, nil
}

// doGET performs an authenticated GET with pacing, circuit breaking and
// 429/5xx retries. 404 (and 403, the bot cannot see the entity) map to
// resolver.ErrNotFound.
func (c *Client) doGET(ctx context.Context, path string) ([]byte, error) {
	if !c.breaker.Allow() {
		return nil, fmt.Errorf("discord_circuit_open: state=%s", c.breaker.StateString())
	}

	var lastErr error
	for attempt := 0; attempt <= c.retryCfg.MaxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return nil, fmt.Errorf("failed_to_create_request: %w", err)
		}
		req.Header.Set("Authorization", c.authHeader())
		req.Header.Set("User-Agent", "DiscordBot (modwatch, 1.0)")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.breaker.RecordFailure()
			lastErr = fmt.Errorf("request_failed: %w", err)
			c.log.Warn("api_request_failed", "path", path, "attempt", attempt+1, "error", err)
			continue
		}

		switch {
		case resp.StatusCode == http.StatusOK:
			body, readErr := io.ReadAll(resp.Body)
			resp.Body.Close()
			if readErr != nil {
				c.breaker.RecordFailure()
				lastErr = fmt.Errorf("failed_to_read_response: %w", readErr)
				continue
			}
			c.breaker.RecordSuccess()
			return body, nil

		case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusForbidden:
			resp.Body.Close()
			// a missing entity is not an API failure
			c.breaker.RecordSuccess()
			return nil, resolver.ErrNotFound

		case resp.StatusCode == http.StatusTooManyRequests:
			retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
			resp.Body.Close()
			wait := CalculateBackoff(c.retryCfg, attempt, retryAfter)
			c.log.Warn("rate_limited", "path", path, "retry_after", wait.Seconds(), "attempt", attempt+1)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			lastErr = fmt.Errorf("rate_limited")
			continue

		case resp.StatusCode >= 500:
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			c.breaker.RecordFailure()
			lastErr = fmt.Errorf("discord_api_error: status=%d body=%s", resp.StatusCode, string(body))
			c.log.Warn("discord_server_error", "path", path, "status", resp.StatusCode, "attempt", attempt+1)
			continue

		default:
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			c.breaker.RecordFailure()
			return nil, fmt.Errorf("discord_api_error: status=%d body=%s", resp.StatusCode, string(body))
		}
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("failed_after_retries")
	}
	return nil, lastErr
}

func (c *Client) authHeader() string {
	tok := c.botToken
	if !strings.HasPrefix(strings.ToLower(tok), "bot ") {
		tok = "Bot " + tok
	}
	return tok
}

func (c *Client) cacheSnapshot(ctx context.Context, key string, snap models.UserSnapshot) {
	if c.redis == nil {
		return
	}
	if data, err := json.Marshal(snap); err == nil {
		_ = c.redis.Set(ctx, key, string(data), 5*time.Minute)
	}
}

func snapshotFromUser(u restUser) models.UserSnapshot {
	id, _ := strconv.ParseUint(u.ID, 10, 64)
	disc, _ := strconv.Atoi(u.Discriminator)
	return models.UserSnapshot{
		ID:            id,
		Username:      u.Username,
		Discriminator: disc,
		GlobalName:    u.GlobalName,
		AvatarHash:    u.Avatar,
		Bot:           u.Bot,
	}
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil && secs > 0 {
		return time.Duration(secs * float64(time.Second))
	}
	return 0
}
