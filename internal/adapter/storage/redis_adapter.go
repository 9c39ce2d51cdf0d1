package storage

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/rl1809/nft-marketplace/internal/core/domain"
)

const listingKeyPrefix = "listing:"

var insertListingScript = redis.NewScript(`
local key = KEYS[1]

if redis.call('EXISTS', key) == 1 then
	return 0
end

redis.call('HSET', key, 'price', ARGV[1], 'seller', ARGV[2])
return 1
`)

var takeListingScript = redis.NewScript(`
local key = KEYS[1]

local fields = redis.call('HMGET', key, 'price', 'seller')
if not fields[1] then
	return {}
end

redis.call('DEL', key)
return fields
`)

// RedisListingStore keeps one hash per listed item.
type RedisListingStore struct {
	client *redis.Client
}

func NewRedisListingStore(client *redis.Client) *RedisListingStore {
	return &RedisListingStore{client: client}
}

func (r *RedisListingStore) Get(ctx context.Context, key domain.ItemKey) (domain.Listing, error) {
	fields, err := r.client.HGetAll(ctx, listingKey(key)).Result()
	if err != nil {
		return domain.Listing{}, err
	}
	if len(fields) == 0 {
		return domain.Listing{}, nil
	}
	return decodeListing(fields["price"], fields["seller"])
}

func (r *RedisListingStore) Insert(ctx context.Context, key domain.ItemKey, listing domain.Listing) (bool, error) {
	result, err := insertListingScript.Run(ctx, r.client, []string{listingKey(key)}, listing.Price, listing.Seller).Int()
	if err != nil {
		return false, err
	}

	return result == 1, nil
}

func (r *RedisListingStore) Put(ctx context.Context, key domain.ItemKey, listing domain.Listing) error {
	if !listing.Listed() {
		return r.Delete(ctx, key)
	}
	return r.client.HSet(ctx, listingKey(key), "price", listing.Price, "seller", listing.Seller).Err()
}

func (r *RedisListingStore) Delete(ctx context.Context, key domain.ItemKey) error {
	return r.client.Del(ctx, listingKey(key)).Err()
}

func (r *RedisListingStore) Take(ctx context.Context, key domain.ItemKey) (domain.Listing, error) {
	fields, err := takeListingScript.Run(ctx, r.client, []string{listingKey(key)}).Slice()
	if err != nil {
		return domain.Listing{}, err
	}
	if len(fields) != 2 {
		return domain.Listing{}, nil
	}

	price, _ := fields[0].(string)
	seller, _ := fields[1].(string)
	return decodeListing(price, seller)
}

func listingKey(key domain.ItemKey) string {
	return listingKeyPrefix + key.String()
}

func decodeListing(price, seller string) (domain.Listing, error) {
	p, err := strconv.ParseInt(price, 10, 64)
	if err != nil {
		return domain.Listing{}, fmt.Errorf("decode listing price %q: %w", price, err)
	}
	return domain.Listing{Price: p, Seller: seller}, nil
}
