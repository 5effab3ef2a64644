// Package fraud is the pre-check run before a purchase is accepted.
package fraud

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Kind names what a blacklist entry identifies.
type Kind string

const (
	KindPhone   Kind = "PHONE"
	KindAccount Kind = "ACCOUNT"
)

// Risk is the verdict for one caller.
type Risk struct {
	IsRisky bool   `json:"isRisky"`
	Reason  string `json:"reason,omitempty"`
}

// Gate answers the two questions asked before any verification work.
type Gate interface {
	CheckBlacklist(ctx context.Context, identifier string, kind Kind) (bool, error)
	CheckFraudRisk(ctx context.Context, ipAddress, userIdentity string) (Risk, error)
}

const riskyIPReason = "의심스러운 IP 대역입니다."

// normalise drops separators so "010-1234-5678" and "01012345678" match.
func normalise(identifier string) string {
	return strings.Map(func(r rune) rune {
		if r == '-' || r == ' ' {
			return -1
		}
		return r
	}, strings.TrimSpace(identifier))
}

// Static is a fixed in-memory gate for development and tests.
type Static struct {
	blacklist map[string]bool
	riskyIPs  map[string]bool
}

func NewStatic(blacklist, riskyIPs []string) *Static {
	s := &Static{blacklist: map[string]bool{}, riskyIPs: map[string]bool{}}
	for _, b := range blacklist {
		s.blacklist[normalise(b)] = true
	}
	for _, ip := range riskyIPs {
		s.riskyIPs[strings.TrimSpace(ip)] = true
	}
	return s
}

// DefaultStatic carries the seed entries the service ships with.
func DefaultStatic() *Static {
	return NewStatic([]string{"010-0000-0000", "1234567890"}, []string{"192.168.0.100"})
}

func (s *Static) CheckBlacklist(_ context.Context, identifier string, _ Kind) (bool, error) {
	return s.blacklist[normalise(identifier)], nil
}

func (s *Static) CheckFraudRisk(_ context.Context, ipAddress, _ string) (Risk, error) {
	if s.riskyIPs[ipAddress] {
		return Risk{IsRisky: true, Reason: riskyIPReason}, nil
	}
	return Risk{}, nil
}

// Redis keeps the blacklist and risky-IP sets in redis and counts requests
// per IP in a fixed window.
type Redis struct {
	rdb       redis.Cmdable
	window    time.Duration
	threshold int64
}

func NewRedis(rdb redis.Cmdable, window time.Duration, threshold int) *Redis {
	return &Redis{rdb: rdb, window: window, threshold: int64(threshold)}
}

func blacklistKey(kind Kind) string { return "blacklist:" + string(kind) }

const riskyIPKey = "fraud:risky_ips"

func (g *Redis) CheckBlacklist(ctx context.Context, identifier string, kind Kind) (bool, error) {
	ok, err := g.rdb.SIsMember(ctx, blacklistKey(kind), normalise(identifier)).Result()
	if err != nil {
		return false, fmt.Errorf("blacklist lookup: %w", err)
	}
	return ok, nil
}

func (g *Redis) CheckFraudRisk(ctx context.Context, ipAddress, userIdentity string) (Risk, error) {
	risky, err := g.rdb.SIsMember(ctx, riskyIPKey, ipAddress).Result()
	if err != nil {
		return Risk{}, fmt.Errorf("risky ip lookup: %w", err)
	}
	if risky {
		return Risk{IsRisky: true, Reason: riskyIPReason}, nil
	}
	if g.threshold <= 0 || ipAddress == "" {
		return Risk{}, nil
	}

	key := "fraud:ip:" + ipAddress
	n, err := g.rdb.Incr(ctx, key).Result()
	if err != nil {
		return Risk{}, fmt.Errorf("ip counter: %w", err)
	}
	if n == 1 {
		g.rdb.Expire(ctx, key, g.window)
	}
	if n > g.threshold {
		return Risk{IsRisky: true, Reason: fmt.Sprintf("요청이 너무 많습니다. (%s)", g.window)}, nil
	}
	return Risk{}, nil
}

// Add puts identifier on the blacklist.
func (g *Redis) Add(ctx context.Context, identifier string, kind Kind) error {
	return g.rdb.SAdd(ctx, blacklistKey(kind), normalise(identifier)).Err()
}

// FlagIP marks an address as risky.
func (g *Redis) FlagIP(ctx context.Context, ipAddress string) error {
	return g.rdb.SAdd(ctx, riskyIPKey, ipAddress).Err()
}
