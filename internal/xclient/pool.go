package xclient

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// DefaultRateLimitCooldown is applied when the platform rate-limits a
// credential without saying for how long.
const DefaultRateLimitCooldown = 900 * time.Second

// ErrNoCredentials means every pool credential is dead.
var ErrNoCredentials = eris.New("xclient: no usable credentials")

// Credential is one auth_token/ct0 pair with its health state.
type Credential struct {
	AuthToken string
	CSRF      string

	index         int
	requestCount  int
	cooldownUntil time.Time
	dead          bool
	lastError     string
}

// CredentialStatus is the externally visible state of one credential.
type CredentialStatus struct {
	Index        int    `json:"index"`
	Token        string `json:"token"` // masked
	RequestCount int    `json:"request_count"`
	Dead         bool   `json:"dead"`
	CoolingDown  bool   `json:"cooling_down"`
	CooldownSecs int    `json:"cooldown_secs"`
	LastError    string `json:"last_error,omitempty"`
}

// Pool hands out credentials round-robin, skipping the ones cooling down
// after a rate limit and the ones marked dead after an auth failure.
type Pool struct {
	mu    sync.Mutex
	creds []*Credential
	next  int

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewPool builds a pool from explicit credential pairs.
func NewPool(creds []Credential) *Pool {
	p := &Pool{now: time.Now, sleep: sleepCtx}
	for i := range creds {
		c := creds[i]
		c.index = i
		p.creds = append(p.creds, &c)
	}
	return p
}

// PoolFromConfigString parses "token:csrf;token:csrf" pairs. Entries
// without a ':' are skipped with a warning.
func PoolFromConfigString(s string) (*Pool, error) {
	var creds []Credential
	for _, pair := range strings.Split(s, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		tok, csrf, ok := strings.Cut(pair, ":")
		if !ok {
			zap.L().Warn("xclient: malformed credential entry skipped")
			continue
		}
		creds = append(creds, Credential{
			AuthToken: strings.TrimSpace(tok),
			CSRF:      strings.TrimSpace(csrf),
		})
	}
	if len(creds) == 0 {
		return nil, eris.New("xclient: no credentials in config string")
	}
	return NewPool(creds), nil
}

// PoolFromEnvFile reads a single credential from a dotenv file. The keys
// are matched exactly: TWITTER_AUTH_TOKEN for the token, TWITTER_CT0 or
// XCSRF_TOKEN for the CSRF value.
func PoolFromEnvFile(path string) (*Pool, error) {
	env, err := godotenv.Read(path)
	if err != nil {
		return nil, eris.Wrapf(err, "xclient: read env file %s", path)
	}

	tok := env["TWITTER_AUTH_TOKEN"]
	csrf := env["TWITTER_CT0"]
	if csrf == "" {
		csrf = env["XCSRF_TOKEN"]
	}
	if tok == "" || csrf == "" {
		return nil, eris.Errorf("xclient: %s has no TWITTER_AUTH_TOKEN / TWITTER_CT0 pair", path)
	}
	return NewPool([]Credential{{AuthToken: tok, CSRF: csrf}}), nil
}

// Size returns the total number of credentials, dead ones included.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.creds)
}

// GetNext returns the next usable credential round-robin, or nil when
// every credential is dead or cooling down.
func (p *Pool) GetNext() *Credential {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.getNextLocked()
}

func (p *Pool) getNextLocked() *Credential {
	n := len(p.creds)
	for i := 0; i < n; i++ {
		c := p.creds[(p.next+i)%n]
		if c.dead || p.now().Before(c.cooldownUntil) {
			continue
		}
		p.next = (c.index + 1) % n
		c.requestCount++
		return c
	}
	return nil
}

// MarkRateLimited puts the credential on cooldown. retryAfter <= 0 uses
// the default 15 minute window.
func (p *Pool) MarkRateLimited(c *Credential, retryAfter time.Duration) {
	if retryAfter <= 0 {
		retryAfter = DefaultRateLimitCooldown
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	c.cooldownUntil = p.now().Add(retryAfter)
	c.lastError = "rate limited"
	zap.L().Warn("xclient: credential rate limited",
		zap.Int("index", c.index),
		zap.Duration("cooldown", retryAfter),
	)
}

// MarkDead permanently retires the credential.
func (p *Pool) MarkDead(c *Credential, reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c.dead = true
	c.lastError = reason
	zap.L().Error("xclient: credential dead",
		zap.Int("index", c.index),
		zap.String("reason", reason),
	)
}

// WaitForAvailable blocks until a credential frees up, polling as
// cooldowns expire. Returns nil without waiting when every credential is
// dead, or when the timeout (default 30 minutes) elapses first.
func (p *Pool) WaitForAvailable(ctx context.Context, timeout time.Duration) *Credential {
	if timeout <= 0 {
		timeout = 1800 * time.Second
	}
	deadline := p.now().Add(timeout)

	for {
		p.mu.Lock()
		if c := p.getNextLocked(); c != nil {
			p.mu.Unlock()
			return c
		}
		allDead := true
		soonest := time.Duration(0)
		for _, c := range p.creds {
			if c.dead {
				continue
			}
			allDead = false
			remaining := c.cooldownUntil.Sub(p.now())
			if soonest == 0 || remaining < soonest {
				soonest = remaining
			}
		}
		p.mu.Unlock()

		if allDead {
			return nil
		}

		wait := soonest + time.Second
		if wait > 60*time.Second {
			wait = 60 * time.Second
		}
		if until := deadline.Sub(p.now()); until <= 0 {
			return nil
		} else if wait > until {
			wait = until
		}

		zap.L().Info("xclient: all credentials cooling down",
			zap.Duration("wait", wait))
		if err := p.sleep(ctx, wait); err != nil {
			return nil
		}
	}
}

// Status reports every credential with its token masked.
func (p *Pool) Status() []CredentialStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]CredentialStatus, 0, len(p.creds))
	for _, c := range p.creds {
		st := CredentialStatus{
			Index:        c.index,
			Token:        maskToken(c.AuthToken),
			RequestCount: c.requestCount,
			Dead:         c.dead,
			LastError:    c.lastError,
		}
		if remaining := c.cooldownUntil.Sub(p.now()); remaining > 0 {
			st.CoolingDown = true
			st.CooldownSecs = int(remaining.Seconds() + 0.5)
		}
		out = append(out, st)
	}
	return out
}

func maskToken(tok string) string {
	if len(tok) <= 4 {
		return "****"
	}
	return fmt.Sprintf("%s****", tok[:4])
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
