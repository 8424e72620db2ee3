package authority

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/rawbytedev/pdx/internal/logging"
	"github.com/rawbytedev/pdx/pkg/pdxtype"
)

const defaultCacheSize = 4096

// RedisOptions configures a Redis authority.
type RedisOptions struct {
	Client              redis.UniversalClient
	KeyPrefix           string
	DistributedSystemID int8
	// CacheSize bounds the local cache of fetched records. Zero picks a
	// default.
	CacheSize int
	Logger    logging.Logger
}

// Redis keeps types and enums in Redis so that processes on different hosts
// agree on ids.
//
// Keys:
//
//	{prefix}:seq:type            INCR counter
//	{prefix}:seq:enum            INCR counter
//	{prefix}:type:{id}           descriptor binary form
//	{prefix}:shape:{fingerprint} id of the first descriptor with that shape
//	{prefix}:enum:{id}           msgpack EnumDescriptor
//	{prefix}:enumkey:{class#name} enum id
type Redis struct {
	client redis.UniversalClient
	prefix string
	dsid   int8
	types  *lru.Cache[int32, []byte]
	enums  *lru.Cache[int32, pdxtype.EnumDescriptor]
	log    logging.Logger
}

func NewRedis(opts RedisOptions) (*Redis, error) {
	if opts.Client == nil {
		return nil, errors.New("authority: redis client is nil")
	}
	size := opts.CacheSize
	if size <= 0 {
		size = defaultCacheSize
	}
	types, err := lru.New[int32, []byte](size)
	if err != nil {
		return nil, err
	}
	enums, err := lru.New[int32, pdxtype.EnumDescriptor](size)
	if err != nil {
		return nil, err
	}
	log := opts.Logger
	if log == nil {
		log = logging.Nop{}
	}
	prefix := opts.KeyPrefix
	if prefix == "" {
		prefix = "pdx"
	}
	return &Redis{client: opts.Client, prefix: prefix, dsid: opts.DistributedSystemID,
		types: types, enums: enums, log: log}, nil
}

func (r *Redis) key(kind, id string) string {
	return r.prefix + ":" + kind + ":" + id
}

func idString(id int32) string { return strconv.FormatInt(int64(id), 10) }

func (r *Redis) RequestTypeID(ctx context.Context, t *pdxtype.TypeDescriptor) (int32, error) {
	shapeKey := r.key("shape", strconv.FormatUint(t.Fingerprint(), 16))

	if id, ok, err := r.shapeMatch(ctx, shapeKey, t); err != nil || ok {
		return id, err
	}

	seq, err := r.client.Incr(ctx, r.key("seq", "type")).Result()
	if err != nil {
		return 0, fmt.Errorf("authority: allocate type id: %w", err)
	}
	id := int32(seq)
	c := t.Clone()
	if err := c.SetTypeID(id); err != nil {
		return 0, err
	}
	b, err := c.MarshalBinary()
	if err != nil {
		return 0, err
	}
	// the record goes in before the shape key so a winner is always fetchable
	if err := r.client.Set(ctx, r.key("type", idString(id)), b, 0).Err(); err != nil {
		return 0, fmt.Errorf("authority: store type %d: %w", id, err)
	}
	r.types.Add(id, b)

	won, err := r.client.SetNX(ctx, shapeKey, id, 0).Result()
	if err != nil {
		return 0, fmt.Errorf("authority: claim shape: %w", err)
	}
	if !won {
		if winner, ok, err := r.shapeMatch(ctx, shapeKey, t); err != nil || ok {
			return winner, err
		}
		// fingerprint collision with a different shape; keep our own id
		r.log.WarnCtx(ctx, "type fingerprint collision", "class", t.ClassName, "id", id)
	}
	r.log.DebugCtx(ctx, "type id allocated", "class", t.ClassName, "id", id)
	return id, nil
}

// shapeMatch returns the id stored under shapeKey when its descriptor equals t.
func (r *Redis) shapeMatch(ctx context.Context, shapeKey string, t *pdxtype.TypeDescriptor) (int32, bool, error) {
	existing, err := r.client.Get(ctx, shapeKey).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("authority: lookup shape: %w", err)
	}
	known, err := r.FetchType(ctx, int32(existing))
	if err != nil {
		return 0, false, err
	}
	if !known.Equal(t) {
		return 0, false, nil
	}
	return int32(existing), true, nil
}

func (r *Redis) FetchType(ctx context.Context, id int32) (*pdxtype.TypeDescriptor, error) {
	if b, ok := r.types.Get(id); ok {
		return pdxtype.UnmarshalDescriptor(b)
	}
	b, err := r.client.Get(ctx, r.key("type", idString(id))).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: type %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("authority: fetch type %d: %w", id, err)
	}
	t, err := pdxtype.UnmarshalDescriptor(b)
	if err != nil {
		return nil, err
	}
	r.types.Add(id, b)
	return t, nil
}

func (r *Redis) RequestEnumValue(ctx context.Context, e pdxtype.EnumDescriptor) (int32, error) {
	keyKey := r.key("enumkey", e.Key())
	existing, err := r.client.Get(ctx, keyKey).Int64()
	if err == nil {
		return int32(existing), nil
	}
	if !errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("authority: lookup enum: %w", err)
	}

	seq, err := r.client.Incr(ctx, r.key("seq", "enum")).Result()
	if err != nil {
		return 0, fmt.Errorf("authority: allocate enum id: %w", err)
	}
	id := pdxtype.EnumID(r.dsid, int32(seq))
	b, err := msgpack.Marshal(e)
	if err != nil {
		return 0, err
	}
	if err := r.client.Set(ctx, r.key("enum", idString(id)), b, 0).Err(); err != nil {
		return 0, fmt.Errorf("authority: store enum %d: %w", id, err)
	}
	won, err := r.client.SetNX(ctx, keyKey, id, 0).Result()
	if err != nil {
		return 0, fmt.Errorf("authority: claim enum: %w", err)
	}
	if !won {
		winner, err := r.client.Get(ctx, keyKey).Int64()
		if err != nil {
			return 0, fmt.Errorf("authority: lookup enum: %w", err)
		}
		return int32(winner), nil
	}
	r.enums.Add(id, e)
	r.log.DebugCtx(ctx, "enum id allocated", "enum", e.Key(), "id", id)
	return id, nil
}

func (r *Redis) FetchEnum(ctx context.Context, id int32) (pdxtype.EnumDescriptor, error) {
	if e, ok := r.enums.Get(id); ok {
		return e, nil
	}
	var e pdxtype.EnumDescriptor
	b, err := r.client.Get(ctx, r.key("enum", idString(id))).Bytes()
	if errors.Is(err, redis.Nil) {
		return e, fmt.Errorf("%w: enum %d", ErrNotFound, id)
	}
	if err != nil {
		return e, fmt.Errorf("authority: fetch enum %d: %w", id, err)
	}
	if err := msgpack.Unmarshal(b, &e); err != nil {
		return e, fmt.Errorf("authority: decode enum %d: %w", id, err)
	}
	r.enums.Add(id, e)
	return e, nil
}
