package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"token-wallet/internal/domain"
)

const balanceTTL = 10 * time.Minute

// setIfNewer stores ARGV[2] unless the cached view carries a higher version than ARGV[1].
var setIfNewer = redis.NewScript(`
local current = redis.call("GET", KEYS[1])
if current then
	local ok, view = pcall(cjson.decode, current)
	if ok and type(view) == "table" and tonumber(view.version) and tonumber(view.version) > tonumber(ARGV[1]) then
		return 0
	end
end
redis.call("SET", KEYS[1], ARGV[2], "EX", ARGV[3])
return 1
`)

type cacheRepository struct {
	client *redis.Client
}

func NewCacheRepository(client *redis.Client) domain.CacheRepository {
	return &cacheRepository{client: client}
}

func balanceKey(accountID uuid.UUID) string {
	return fmt.Sprintf("balance:%s", accountID)
}

func (r *cacheRepository) GetBalance(ctx context.Context, accountID uuid.UUID) (*domain.BalanceView, error) {
	val, err := r.client.Get(ctx, balanceKey(accountID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil // Cache miss
	}
	if err != nil {
		return nil, err
	}

	var view domain.BalanceView
	if err := json.Unmarshal([]byte(val), &view); err != nil {
		return nil, err
	}
	return &view, nil
}

// SetBalance caches the view unless a newer version is already cached, so a reader that
// loaded the row before a commit cannot overwrite the view written after it.
func (r *cacheRepository) SetBalance(ctx context.Context, view *domain.BalanceView) error {
	data, err := json.Marshal(view)
	if err != nil {
		return err
	}
	keys := []string{balanceKey(view.AccountID)}
	return setIfNewer.Run(ctx, r.client, keys, view.Version, string(data), int64(balanceTTL/time.Second)).Err()
}

func (r *cacheRepository) InvalidateBalance(ctx context.Context, accountID uuid.UUID) error {
	return r.client.Del(ctx, balanceKey(accountID)).Err()
}
