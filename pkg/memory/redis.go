package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dtnitsch/llm-web-chat/models"
)

const (
	msgHashPrefix      = "msg:"
	msgListPrefix      = "msgs:"
	convHashPrefix     = "conv:"
	userConvsPrefix    = "user_convs:"
	isoLayout          = "2006-01-02T15:04:05.000000"
	readableLayout     = "2006-01-02 15:04:05.000000"
	defaultDialTimeout = 5 * time.Second
)

// Redis keeps each message in a hash, the conversation's message IDs in a
// list and per-user conversation sets, all expiring after the TTL.
type Redis struct {
	client redis.UniversalClient
	userID string
	ttl    time.Duration
	clock  *clock
}

func NewRedis(client redis.UniversalClient, userID string, ttl time.Duration) *Redis {
	if userID == "" {
		userID = DefaultUserID
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{client: client, userID: userID, ttl: ttl, clock: newClock()}
}

// DialRedis connects to the server at rawURL (redis://host:port/db) and
// checks it answers.
func DialRedis(ctx context.Context, rawURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, defaultDialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to reach redis: %w", err)
	}
	return client, nil
}

func (r *Redis) SaveMessage(ctx context.Context, convID, role, content string) (string, error) {
	at := r.clock.next()
	id := messageID(convID, at)
	msgKey := msgHashPrefix + id
	listKey := msgListPrefix + convID
	convKey := convHashPrefix + convID
	userKey := userConvsPrefix + r.userID

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, msgKey, map[string]any{
			"role":              role,
			"content":           content,
			"timestamp":         at.Unix(),
			"timestamp_micro":   at.UnixMicro(),
			"datetime_iso":      at.Format(isoLayout),
			"datetime_readable": at.Format(readableLayout),
		})
		pipe.RPush(ctx, listKey, id)
		pipe.HSet(ctx, convKey, map[string]any{
			"updated_at":       at.Unix(),
			"updated_at_micro": at.UnixMicro(),
			"updated_at_iso":   at.Format(isoLayout),
			"user_id":          r.userID,
		})
		pipe.HIncrBy(ctx, convKey, "message_count", 1)
		pipe.Expire(ctx, msgKey, r.ttl)
		pipe.Expire(ctx, listKey, r.ttl)
		pipe.Expire(ctx, convKey, r.ttl)
		pipe.SAdd(ctx, userKey, convID)
		pipe.Expire(ctx, userKey, r.ttl)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to save message: %w", err)
	}
	return id, nil
}

func (r *Redis) GetConversation(ctx context.Context, convID string) ([]models.Message, error) {
	ids, err := r.client.LRange(ctx, msgListPrefix+convID, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, msgHashPrefix+id)
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}

	messages := make([]models.Message, 0, len(ids))
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			// expired independently of the list
			continue
		}
		role := fields["role"]
		if role == "" {
			role = models.RoleUser
		}
		m := models.Message{ID: ids[i], Role: role, Content: fields["content"]}
		if us, err := strconv.ParseInt(fields["timestamp_micro"], 10, 64); err == nil {
			m.CreatedAt = time.UnixMicro(us)
		}
		messages = append(messages, m)
	}
	return messages, nil
}

func (r *Redis) ClearConversation(ctx context.Context, convID string) error {
	listKey := msgListPrefix + convID
	ids, err := r.client.LRange(ctx, listKey, 0, -1).Result()
	if err != nil {
		return fmt.Errorf("failed to list messages: %w", err)
	}

	keys := make([]string, 0, len(ids)+2)
	for _, id := range ids {
		keys = append(keys, msgHashPrefix+id)
	}
	keys = append(keys, listKey, convHashPrefix+convID)

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, keys...)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to clear conversation: %w", err)
	}
	return nil
}

func (r *Redis) ListConversations(ctx context.Context, userID string, limit int) ([]models.ConversationSummary, error) {
	if userID == "" {
		userID = r.userID
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}

	convIDs, err := r.client.SMembers(ctx, userConvsPrefix+userID).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	if len(convIDs) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(convIDs))
	_, err = r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range convIDs {
			cmds[i] = pipe.HGetAll(ctx, convHashPrefix+id)
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to load conversations: %w", err)
	}

	type entry struct {
		summary models.ConversationSummary
		order   int64
	}
	var entries []entry
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		secs, _ := strconv.ParseInt(fields["updated_at"], 10, 64)
		order, err := strconv.ParseInt(fields["updated_at_micro"], 10, 64)
		if err != nil {
			order = secs * int64(time.Second/time.Microsecond)
		}
		count, _ := strconv.Atoi(fields["message_count"])
		entries = append(entries, entry{
			summary: models.ConversationSummary{
				ID:           convIDs[i],
				UserID:       fields["user_id"],
				UpdatedAt:    time.UnixMicro(order),
				MessageCount: count,
			},
			order: order,
		})
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].order > entries[j].order })
	if len(entries) > limit {
		entries = entries[:limit]
	}
	out := make([]models.ConversationSummary, len(entries))
	for i, e := range entries {
		out[i] = e.summary
	}
	return out, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
