package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/ikkim/cartage/pkg/cartage"
	"github.com/ikkim/cartage/pkg/logger"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// RedisCartStoreProvider opens cartage store sessions on Redis.
//
// Layout under prefix p:
//
//	p:carts                         zset of cart ids scored by creation (unix ms)
//	p:cart:{id}                     hash of the cart record
//	p:cart:{id}:lines               list of line ids in insertion order
//	p:cart:{id}:line:{line}         hash with product_code and quantity
//	p:cart:{id}:line:{line}:attrs   hash of attribute name to value
//
// Transactions are MULTI/EXEC blocks run under WATCH: writes are queued and
// applied on commit, reads always observe committed data. A write against a
// cart or line that no longer exists fails with redis.Nil and is not queued.
type RedisCartStoreProvider struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

var _ cartage.StoreProvider = (*RedisCartStoreProvider)(nil)

type RedisCartStoreOption func(*RedisCartStoreProvider)

// WithRedisClock overrides the time source used for created and modified stamps.
func WithRedisClock(now func() time.Time) RedisCartStoreOption {
	return func(p *RedisCartStoreProvider) { p.now = now }
}

func NewRedisCartStoreProvider(client *redis.Client, prefix string, opts ...RedisCartStoreOption) *RedisCartStoreProvider {
	p := &RedisCartStoreProvider{client: client, prefix: prefix, now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *RedisCartStoreProvider) Session(ctx context.Context) (cartage.Store, error) {
	return &redisSession{ctx: ctx, client: p.client, prefix: p.prefix, now: p.now}, nil
}

const (
	fieldID             = "id"
	fieldCreated        = "created"
	fieldCreateUser     = "create_user"
	fieldLastModified   = "last_modified"
	fieldLastModifyUser = "last_modify_user"
	fieldFinalized      = "finalized"
	fieldProductCode    = "product_code"
	fieldQuantity       = "quantity"
)

type redisSession struct {
	ctx    context.Context
	client *redis.Client
	prefix string
	now    func() time.Time
	tx     *redisTx
}

// maxTxAttempts bounds the retries of a transaction whose watched keys were
// changed by another client between WATCH and EXEC.
const maxTxAttempts = 5

// redisTx collects the writes of one transaction. On commit they are applied
// by a single MULTI/EXEC while every key they depend on is watched.
type redisTx struct {
	ops []redisOp
	// exist maps keys that must still exist at commit to the error returned
	// when one is gone; absent maps keys that must not exist yet.
	exist   map[string]error
	absent  map[string]error
	creates map[string]bool
	watch   map[string]bool
}

// redisOp is one queued write. prepare runs under WATCH before MULTI and may
// read what apply needs.
type redisOp struct {
	creates []string
	watch   []string
	prepare func(tx *redis.Tx) error
	apply   func(pipe redis.Pipeliner)
}

// guard names a key a write depends on and the error for when it is missing.
type guard struct {
	key     string
	missing error
}

func newRedisTx() *redisTx {
	return &redisTx{
		exist:   map[string]error{},
		absent:  map[string]error{},
		creates: map[string]bool{},
		watch:   map[string]bool{},
	}
}

func (t *redisTx) add(op redisOp) {
	for _, key := range op.creates {
		t.creates[key] = true
	}
	for _, key := range op.watch {
		t.watch[key] = true
	}
	t.ops = append(t.ops, op)
}

func (t *redisTx) keys() []string {
	seen := map[string]bool{}
	var keys []string
	for _, set := range []map[string]bool{t.watch, t.creates} {
		for key := range set {
			if !seen[key] {
				seen[key] = true
				keys = append(keys, key)
			}
		}
	}
	for _, set := range []map[string]error{t.exist, t.absent} {
		for key := range set {
			if !seen[key] {
				seen[key] = true
				keys = append(keys, key)
			}
		}
	}
	sort.Strings(keys)
	return keys
}

func (s *redisSession) cartsKey() string {
	return s.prefix + ":carts"
}

func (s *redisSession) cartKey(cart string) string {
	return fmt.Sprintf("%s:cart:%s", s.prefix, cart)
}

func (s *redisSession) linesKey(cart string) string {
	return s.cartKey(cart) + ":lines"
}

func (s *redisSession) lineKey(cart, line string) string {
	return fmt.Sprintf("%s:line:%s", s.cartKey(cart), line)
}

func (s *redisSession) attrsKey(cart, line string) string {
	return s.lineKey(cart, line) + ":attrs"
}

func (s *redisSession) cartGuard(cart string) guard {
	return guard{
		key:     s.cartKey(cart),
		missing: fmt.Errorf("cart %q: %w", cart, redis.Nil),
	}
}

func (s *redisSession) lineGuard(cart, line string) guard {
	return guard{
		key:     s.lineKey(cart, line),
		missing: fmt.Errorf("line %q of cart %q: %w", line, cart, redis.Nil),
	}
}

func cartExistsError(id string) error {
	return &cartage.Error{Kind: cartage.KindCartExists, Op: "repository.RegisterCart", Message: fmt.Sprintf("cart %q already exists", id)}
}

// queue adds to the open transaction, or commits a transaction of its own.
func (s *redisSession) queue(fn func(tx *redisTx)) error {
	if s.tx != nil {
		fn(s.tx)
		return nil
	}
	tx := newRedisTx()
	fn(tx)
	return s.exec(tx)
}

// write queues op once every guarded key exists. A missing key fails the
// write before anything is queued; the guards are checked again at commit.
func (s *redisSession) write(guards []guard, op redisOp) error {
	for _, g := range guards {
		if s.tx != nil && s.tx.creates[g.key] {
			continue
		}
		n, err := s.client.Exists(s.ctx, g.key).Result()
		if err != nil {
			return err
		}
		if n == 0 {
			return g.missing
		}
	}

	return s.queue(func(tx *redisTx) {
		for _, g := range guards {
			if !tx.creates[g.key] {
				tx.exist[g.key] = g.missing
			}
		}
		tx.add(op)
	})
}

// exec applies tx in one MULTI/EXEC under WATCH, retrying when a watched key
// changed concurrently. Guards are re-evaluated on every attempt.
func (s *redisSession) exec(tx *redisTx) error {
	if len(tx.ops) == 0 {
		return nil
	}

	keys := tx.keys()
	for attempt := 1; ; attempt++ {
		err := s.client.Watch(s.ctx, func(rtx *redis.Tx) error {
			for key, missing := range tx.exist {
				n, err := rtx.Exists(s.ctx, key).Result()
				if err != nil {
					return err
				}
				if n == 0 {
					return missing
				}
			}
			for key, taken := range tx.absent {
				n, err := rtx.Exists(s.ctx, key).Result()
				if err != nil {
					return err
				}
				if n > 0 {
					return taken
				}
			}
			for _, op := range tx.ops {
				if op.prepare == nil {
					continue
				}
				if err := op.prepare(rtx); err != nil {
					return err
				}
			}

			_, err := rtx.TxPipelined(s.ctx, func(pipe redis.Pipeliner) error {
				for _, op := range tx.ops {
					op.apply(pipe)
				}
				return nil
			})
			return err
		}, keys...)

		if !errors.Is(err, redis.TxFailedErr) || attempt == maxTxAttempts {
			return err
		}
		logger.Debug("Redis transaction conflict, retrying", map[string]interface{}{
			"attempt": attempt,
			"keys":    len(keys),
		})
	}
}

func (s *redisSession) stamp() time.Time {
	return s.now().UTC()
}

func (s *redisSession) touch(pipe redis.Pipeliner, cart, user string, at time.Time) {
	pipe.HSet(s.ctx, s.cartKey(cart),
		fieldLastModified, formatTime(at),
		fieldLastModifyUser, user,
	)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(v string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func (s *redisSession) CartExists(id string) (bool, error) {
	n, err := s.client.Exists(s.ctx, s.cartKey(id)).Result()
	if err != nil {
		logger.Error("Failed to check cart existence in redis", err, map[string]interface{}{
			"cart_id": id,
		})
		return false, err
	}
	return n > 0, nil
}

// RegisterCart creates the cart record. The record must still be absent when
// the transaction commits, so a concurrent registration of the same id fails
// with CartExists instead of overwriting it.
func (s *redisSession) RegisterCart(id, user string) error {
	key := s.cartKey(id)
	if s.tx != nil && s.tx.creates[key] {
		return cartExistsError(id)
	}
	exists, err := s.CartExists(id)
	if err != nil {
		return err
	}
	if exists {
		return cartExistsError(id)
	}

	now := s.stamp()
	logger.Debug("Creating cart in redis", map[string]interface{}{
		"cart_id": id,
		"user":    user,
	})
	return s.queue(func(tx *redisTx) {
		tx.absent[key] = cartExistsError(id)
		tx.add(redisOp{
			creates: []string{key},
			apply: func(pipe redis.Pipeliner) {
				pipe.HSet(s.ctx, key,
					fieldID, id,
					fieldCreated, formatTime(now),
					fieldCreateUser, user,
					fieldLastModified, formatTime(now),
					fieldLastModifyUser, user,
					fieldFinalized, "0",
				)
				pipe.ZAdd(s.ctx, s.cartsKey(), redis.Z{Score: float64(now.UnixMilli()), Member: id})
			},
		})
	})
}

// DeleteCart removes the cart record, its line list and every line and
// attribute hash listed at commit time.
func (s *redisSession) DeleteCart(id, user string) error {
	logger.Debug("Deleting cart from redis", map[string]interface{}{
		"cart_id": id,
		"user":    user,
	})

	var lines []string
	return s.queue(func(tx *redisTx) {
		tx.add(redisOp{
			watch: []string{s.cartKey(id), s.linesKey(id)},
			prepare: func(rtx *redis.Tx) error {
				var err error
				lines, err = rtx.LRange(s.ctx, s.linesKey(id), 0, -1).Result()
				return err
			},
			apply: func(pipe redis.Pipeliner) {
				keys := []string{s.cartKey(id), s.linesKey(id)}
				for _, line := range lines {
					keys = append(keys, s.lineKey(id, line), s.attrsKey(id, line))
				}
				pipe.Del(s.ctx, keys...)
				pipe.ZRem(s.ctx, s.cartsKey(), id)
			},
		})
	})
}

func (s *redisSession) GetCart(id string) (cartage.CartInfo, bool, error) {
	fields, err := s.client.HGetAll(s.ctx, s.cartKey(id)).Result()
	if err != nil {
		logger.Error("Failed to find cart in redis", err, map[string]interface{}{
			"cart_id": id,
		})
		return cartage.CartInfo{}, false, err
	}
	if len(fields) == 0 {
		return cartage.CartInfo{}, false, nil
	}
	info, err := decodeCart(id, fields)
	if err != nil {
		return cartage.CartInfo{}, false, err
	}
	return info, true, nil
}

func decodeCart(id string, fields map[string]string) (cartage.CartInfo, error) {
	created, err := parseTime(fields[fieldCreated])
	if err != nil {
		return cartage.CartInfo{}, fmt.Errorf("cart %q: bad %s: %w", id, fieldCreated, err)
	}
	modified, err := parseTime(fields[fieldLastModified])
	if err != nil {
		return cartage.CartInfo{}, fmt.Errorf("cart %q: bad %s: %w", id, fieldLastModified, err)
	}
	return cartage.CartInfo{
		Identifier:     id,
		Created:        created,
		CreateUser:     fields[fieldCreateUser],
		LastModified:   modified,
		LastModifyUser: fields[fieldLastModifyUser],
		Finalized:      fields[fieldFinalized] == "1",
	}, nil
}

func (s *redisSession) GetCarts(creation, modification *cartage.Range) ([]cartage.CartInfo, error) {
	by := &redis.ZRangeBy{Min: "-inf", Max: "+inf"}
	if creation != nil {
		by.Min = strconv.FormatInt(creation.Start.UnixMilli(), 10)
		by.Max = strconv.FormatInt(creation.End.UnixMilli(), 10)
	}
	ids, err := s.client.ZRangeByScore(s.ctx, s.cartsKey(), by).Result()
	if err != nil {
		logger.Error("Failed to list carts from redis", err, nil)
		return nil, err
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(s.ctx, s.cartKey(id))
	}
	if len(ids) > 0 {
		if _, err := pipe.Exec(s.ctx); err != nil {
			return nil, err
		}
	}

	carts := make([]cartage.CartInfo, 0, len(ids))
	for i, id := range ids {
		fields := cmds[i].Val()
		if len(fields) == 0 {
			continue
		}
		info, err := decodeCart(id, fields)
		if err != nil {
			return nil, err
		}
		if cartage.InRanges(info, creation, modification) {
			carts = append(carts, info)
		}
	}
	sort.SliceStable(carts, func(i, j int) bool {
		if carts[i].Created.Equal(carts[j].Created) {
			return carts[i].Identifier < carts[j].Identifier
		}
		return carts[i].Created.Before(carts[j].Created)
	})
	return carts, nil
}

func (s *redisSession) InsertLine(cart, id, productCode string, quantity decimal.Decimal, user string) error {
	now := s.stamp()
	return s.write([]guard{s.cartGuard(cart)}, redisOp{
		creates: []string{s.lineKey(cart, id)},
		apply: func(pipe redis.Pipeliner) {
			pipe.RPush(s.ctx, s.linesKey(cart), id)
			pipe.HSet(s.ctx, s.lineKey(cart, id),
				fieldProductCode, productCode,
				fieldQuantity, quantity.String(),
			)
			s.touch(pipe, cart, user, now)
		},
	})
}

func (s *redisSession) UpdateLine(cart, id string, quantity decimal.Decimal, user string) error {
	now := s.stamp()
	return s.write([]guard{s.cartGuard(cart), s.lineGuard(cart, id)}, redisOp{
		apply: func(pipe redis.Pipeliner) {
			pipe.HSet(s.ctx, s.lineKey(cart, id), fieldQuantity, quantity.String())
			s.touch(pipe, cart, user, now)
		},
	})
}

func (s *redisSession) DeleteLine(cart, id, user string) error {
	now := s.stamp()
	return s.write([]guard{s.cartGuard(cart)}, redisOp{
		apply: func(pipe redis.Pipeliner) {
			pipe.LRem(s.ctx, s.linesKey(cart), 0, id)
			pipe.Del(s.ctx, s.lineKey(cart, id), s.attrsKey(cart, id))
			s.touch(pipe, cart, user, now)
		},
	})
}

func (s *redisSession) DeleteLines(cart, user string) error {
	now := s.stamp()
	var lines []string
	return s.write([]guard{s.cartGuard(cart)}, redisOp{
		watch: []string{s.linesKey(cart)},
		prepare: func(rtx *redis.Tx) error {
			var err error
			lines, err = rtx.LRange(s.ctx, s.linesKey(cart), 0, -1).Result()
			return err
		},
		apply: func(pipe redis.Pipeliner) {
			keys := []string{s.linesKey(cart)}
			for _, line := range lines {
				keys = append(keys, s.lineKey(cart, line), s.attrsKey(cart, line))
			}
			pipe.Del(s.ctx, keys...)
			s.touch(pipe, cart, user, now)
		},
	})
}

func (s *redisSession) LineExists(cart, id string) (bool, error) {
	n, err := s.client.Exists(s.ctx, s.lineKey(cart, id)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *redisSession) GetLine(cart, id string) (cartage.LineInfo, error) {
	fields, err := s.client.HGetAll(s.ctx, s.lineKey(cart, id)).Result()
	if err != nil {
		return cartage.LineInfo{}, err
	}
	if len(fields) == 0 {
		return cartage.LineInfo{}, fmt.Errorf("line %q of cart %q: %w", id, cart, redis.Nil)
	}
	return decodeLine(id, fields)
}

func decodeLine(id string, fields map[string]string) (cartage.LineInfo, error) {
	quantity, err := decimal.NewFromString(fields[fieldQuantity])
	if err != nil {
		return cartage.LineInfo{}, fmt.Errorf("line %q: bad %s: %w", id, fieldQuantity, err)
	}
	return cartage.LineInfo{
		Identifier:  id,
		ProductCode: fields[fieldProductCode],
		Quantity:    quantity,
	}, nil
}

func (s *redisSession) GetLines(cart string) ([]cartage.LineInfo, error) {
	ids, err := s.client.LRange(s.ctx, s.linesKey(cart), 0, -1).Result()
	if err != nil {
		logger.Error("Failed to find cart lines in redis", err, map[string]interface{}{
			"cart_id": cart,
		})
		return nil, err
	}
	if len(ids) == 0 {
		return []cartage.LineInfo{}, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(s.ctx, s.lineKey(cart, id))
	}
	if _, err := pipe.Exec(s.ctx); err != nil {
		return nil, err
	}

	lines := make([]cartage.LineInfo, 0, len(ids))
	for i, id := range ids {
		fields := cmds[i].Val()
		if len(fields) == 0 {
			continue
		}
		line, err := decodeLine(id, fields)
		if err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, nil
}

func (s *redisSession) InsertLineAttribute(cart, line, name, value, user string) error {
	return s.SetLineAttribute(cart, line, name, value, user)
}

func (s *redisSession) SetLineAttribute(cart, line, name, value, user string) error {
	now := s.stamp()
	return s.write([]guard{s.cartGuard(cart), s.lineGuard(cart, line)}, redisOp{
		apply: func(pipe redis.Pipeliner) {
			pipe.HSet(s.ctx, s.attrsKey(cart, line), name, value)
			s.touch(pipe, cart, user, now)
		},
	})
}

func (s *redisSession) DeleteLineAttribute(cart, line, name, user string) error {
	now := s.stamp()
	return s.write([]guard{s.cartGuard(cart)}, redisOp{
		apply: func(pipe redis.Pipeliner) {
			pipe.HDel(s.ctx, s.attrsKey(cart, line), name)
			s.touch(pipe, cart, user, now)
		},
	})
}

func (s *redisSession) GetLineAttributes(cart, line string) (map[string]cartage.AttributeInfo, error) {
	fields, err := s.client.HGetAll(s.ctx, s.attrsKey(cart, line)).Result()
	if err != nil {
		return nil, err
	}
	attrs := make(map[string]cartage.AttributeInfo, len(fields))
	for name, value := range fields {
		attrs[name] = cartage.AttributeInfo{Name: name, Value: value}
	}
	return attrs, nil
}

func (s *redisSession) SetCartFinalized(cart, user string) error {
	now := s.stamp()
	return s.write([]guard{s.cartGuard(cart)}, redisOp{
		apply: func(pipe redis.Pipeliner) {
			pipe.HSet(s.ctx, s.cartKey(cart), fieldFinalized, "1")
			s.touch(pipe, cart, user, now)
		},
	})
}

func (s *redisSession) BeginTransaction() error {
	if s.tx != nil {
		return ErrTransactionState
	}
	s.tx = newRedisTx()
	return nil
}

func (s *redisSession) CommitTransaction() error {
	if s.tx == nil {
		return ErrTransactionState
	}
	tx := s.tx
	s.tx = nil
	if err := s.exec(tx); err != nil {
		if cartage.KindOf(err) == "" && !errors.Is(err, redis.Nil) {
			logger.Error("Failed to execute redis transaction", err, nil)
		}
		return err
	}
	return nil
}

// RollbackTransaction drops the queued writes; nothing reached Redis yet.
func (s *redisSession) RollbackTransaction() error {
	s.tx = nil
	return nil
}

func (s *redisSession) Close() error {
	return s.RollbackTransaction()
}
