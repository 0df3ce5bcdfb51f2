package processor

import (
	"fmt"
	"strconv"

	"modwatch/internal/models"
)

// ObservationFromEvent extracts the partial user observation carried by
// a gateway event. ok=false means the event type carries no user data
// we track; an error means the payload was malformed for its type.
//
// Only member-shaped events (GUILD_MEMBER_*) are guild-scoped: they are
// the only payloads where the nickname field is authoritative. A
// MESSAGE_CREATE inside a guild carries the member nick too, so it
// counts as guild-scoped as well.
func ObservationFromEvent(event Event) (models.Observation, bool, error) {
	switch event.Type {
	case "USER_UPDATE", "PRESENCE_UPDATE":
		user, ok := event.Data["user"].(map[string]interface{})
		if !ok {
			return models.Observation{}, false, fmt.Errorf("%w: missing user in %s", errInvalidEvent, event.Type)
		}
		obs, err := observationFromUser(user, event.Type)
		return obs, err == nil, err

	case "GUILD_MEMBER_UPDATE", "GUILD_MEMBER_ADD":
		user, ok := event.Data["user"].(map[string]interface{})
		if !ok {
			return models.Observation{}, false, fmt.Errorf("%w: missing user in %s", errInvalidEvent, event.Type)
		}
		obs, err := observationFromUser(user, event.Type)
		if err != nil {
			return models.Observation{}, false, err
		}
		if guildID := extractStringField(event.Data, "guild_id"); guildID != "" {
			obs.GuildScoped = true
			// nick sits on the member payload, not the user object; an
			// absent or null nick means the member has none
			obs.Nickname = extractStringField(event.Data, "nick")
		}
		return obs, true, nil

	case "MESSAGE_CREATE":
		author, ok := event.Data["author"].(map[string]interface{})
		if !ok {
			return models.Observation{}, false, fmt.Errorf("%w: missing author in MESSAGE_CREATE", errInvalidEvent)
		}
		obs, err := observationFromUser(author, event.Type)
		if err != nil {
			return models.Observation{}, false, err
		}
		if guildID := extractStringField(event.Data, "guild_id"); guildID != "" {
			if member, ok := event.Data["member"].(map[string]interface{}); ok {
				obs.GuildScoped = true
				obs.Nickname = extractStringField(member, "nick")
			}
		}
		return obs, true, nil

	default:
		return models.Observation{}, false, nil
	}
}

func observationFromUser(user map[string]interface{}, eventType string) (models.Observation, error) {
	id, err := strconv.ParseUint(extractStringField(user, "id"), 10, 64)
	if err != nil || id == 0 {
		return models.Observation{}, fmt.Errorf("%w: bad user id in %s", errInvalidEvent, eventType)
	}

	obs := models.Observation{
		UserID:   id,
		Username: extractStringField(user, "username"),
	}
	if disc := extractStringField(user, "discriminator"); disc != "" {
		// "0" is the unknown sentinel for migrated accounts
		if n, err := strconv.Atoi(disc); err == nil {
			obs.Discriminator = n
		}
	}
	return obs, nil
}

func extractStringField(m map[string]interface{}, key string) string {
	if m == nil {
		return ""
	}
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}
