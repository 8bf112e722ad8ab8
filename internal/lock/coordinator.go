// Package lock is the seat lock coordinator.  A seat is locked by writing
// seat_lock:<id> = <holder> into Redis with a TTL.  All check-and-mutate
// operations run as Lua scripts so a holder can never delete or extend an
// entry it does not own, even when the TTL elapses mid-operation.
package lock

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/seat-arbiter/internal/errs"
)

// DefaultPrefix is the key prefix of lock entries.
const DefaultPrefix = "seat_lock:"

// acquireScript sets the entry if absent.  On contention it reports the
// current holder and remaining TTL in the same round trip.
var acquireScript = redis.NewScript(`
local ok = redis.call('SET', KEYS[1], ARGV[1], 'NX', 'PX', ARGV[2])
if ok then
    return {1, ARGV[1], tonumber(ARGV[2])}
end
local holder = redis.call('GET', KEYS[1]) or ''
return {0, holder, redis.call('PTTL', KEYS[1])}
`)

// releaseScript deletes the entry only when it still belongs to ARGV[1].
var releaseScript = redis.NewScript(`
local v = redis.call('GET', KEYS[1])
if not v then return 0 end
if v ~= ARGV[1] then return -1 end
redis.call('DEL', KEYS[1])
return 1
`)

// extendScript resets the TTL only when the entry still belongs to ARGV[1].
var extendScript = redis.NewScript(`
local v = redis.call('GET', KEYS[1])
if not v then return 0 end
if v ~= ARGV[1] then return -1 end
redis.call('PEXPIRE', KEYS[1], ARGV[2])
return 1
`)

var inspectScript = redis.NewScript(`
local v = redis.call('GET', KEYS[1])
if not v then return {0, '', -2} end
return {1, v, redis.call('PTTL', KEYS[1])}
`)

// Outcome is the result of a conditional release or extend.
type Outcome int

const (
	NotFound Outcome = iota
	Released
	Extended
	NotOwner
)

func (o Outcome) String() string {
	switch o {
	case Released:
		return "released"
	case Extended:
		return "extended"
	case NotOwner:
		return "not_owner"
	default:
		return "not_found"
	}
}

// Grant is the answer to an acquire.  When Granted is false, Holder and
// ExpiresAt describe the current owner; callers must not leak Holder to
// other users.
type Grant struct {
	Granted   bool
	Holder    string
	ExpiresAt time.Time
}

// Entry is a live lock entry.
type Entry struct {
	Holder    string
	TTL       time.Duration
	ExpiresAt time.Time
}

// Coordinator issues and revokes seat locks.  It is safe for concurrent use.
type Coordinator struct {
	rdb    redis.Scripter
	prefix string
	now    func() time.Time
}

// Option customises a Coordinator.
type Option func(*Coordinator)

// WithPrefix overrides DefaultPrefix.
func WithPrefix(p string) Option { return func(c *Coordinator) { c.prefix = p } }

// WithClock overrides time.Now for ExpiresAt arithmetic.
func WithClock(now func() time.Time) Option { return func(c *Coordinator) { c.now = now } }

// NewCoordinator returns a Coordinator backed by rdb.
func NewCoordinator(rdb redis.Scripter, opts ...Option) *Coordinator {
	c := &Coordinator{rdb: rdb, prefix: DefaultPrefix, now: time.Now}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Key returns the lock key for seatID.
func (c *Coordinator) Key(seatID uint64) string {
	return c.prefix + strconv.FormatUint(seatID, 10)
}

// Acquire atomically creates the entry for seatID with holder and ttl if no
// live entry exists.  Exactly one of any number of concurrent callers is
// granted.  Acquire never overwrites a live entry, including one owned by
// holder itself.
func (c *Coordinator) Acquire(ctx context.Context, seatID uint64, holder string, ttl time.Duration) (Grant, error) {
	ms, err := ttlMillis(ttl)
	if err != nil {
		return Grant{}, err
	}
	res, err := acquireScript.Run(ctx, c.rdb, []string{c.Key(seatID)}, holder, ms).Slice()
	if err != nil {
		return Grant{}, errs.Unavailable(err, "acquire seat lock")
	}
	if len(res) != 3 {
		return Grant{}, errs.Unavailable(fmt.Errorf("unexpected reply %v", res), "acquire seat lock")
	}
	granted, _ := res[0].(int64)
	h, _ := res[1].(string)
	pttl, _ := res[2].(int64)
	return Grant{
		Granted:   granted == 1,
		Holder:    h,
		ExpiresAt: c.expiresAt(pttl),
	}, nil
}

// Release deletes the entry for seatID iff it is owned by holder.
func (c *Coordinator) Release(ctx context.Context, seatID uint64, holder string) (Outcome, error) {
	n, err := releaseScript.Run(ctx, c.rdb, []string{c.Key(seatID)}, holder).Int64()
	if err != nil {
		return NotFound, errs.Unavailable(err, "release seat lock")
	}
	return outcome(n, Released), nil
}

// Extend resets the TTL of the entry for seatID iff it is owned by holder.
func (c *Coordinator) Extend(ctx context.Context, seatID uint64, holder string, ttl time.Duration) (Outcome, error) {
	ms, err := ttlMillis(ttl)
	if err != nil {
		return NotFound, err
	}
	n, err := extendScript.Run(ctx, c.rdb, []string{c.Key(seatID)}, holder, ms).Int64()
	if err != nil {
		return NotFound, errs.Unavailable(err, "extend seat lock")
	}
	return outcome(n, Extended), nil
}

// Inspect returns the live entry for seatID, if any.
func (c *Coordinator) Inspect(ctx context.Context, seatID uint64) (Entry, bool, error) {
	res, err := inspectScript.Run(ctx, c.rdb, []string{c.Key(seatID)}).Slice()
	if err != nil {
		return Entry{}, false, errs.Unavailable(err, "inspect seat lock")
	}
	if len(res) != 3 {
		return Entry{}, false, errs.Unavailable(fmt.Errorf("unexpected reply %v", res), "inspect seat lock")
	}
	if found, _ := res[0].(int64); found != 1 {
		return Entry{}, false, nil
	}
	h, _ := res[1].(string)
	pttl, _ := res[2].(int64)
	e := Entry{Holder: h, ExpiresAt: c.expiresAt(pttl)}
	if pttl > 0 {
		e.TTL = time.Duration(pttl) * time.Millisecond
	}
	return e, true, nil
}

// expiresAt converts a PTTL reply to an absolute time.  Entries without a
// TTL (pttl -1) should not exist; they report the zero time.
func (c *Coordinator) expiresAt(pttl int64) time.Time {
	if pttl < 0 {
		return time.Time{}
	}
	return c.now().Add(time.Duration(pttl) * time.Millisecond)
}

func ttlMillis(ttl time.Duration) (int64, error) {
	ms := ttl.Milliseconds()
	if ms < 1 {
		return 0, fmt.Errorf("lock ttl %s must be at least 1ms", ttl)
	}
	return ms, nil
}

func outcome(n int64, ok Outcome) Outcome {
	switch n {
	case 1:
		return ok
	case -1:
		return NotOwner
	default:
		return NotFound
	}
}
