// Package keys derives the stable record keys of the ledger.
//
// Every logical entity has exactly one key, derived from the same seeds the
// settlement program uses for its account addresses:
//
//	platform          platform
//	user              user:{identity}
//	wager             bet:{user}:{created_at unix}
//	pool              etf:{manager}:{created_at unix}
//	investment        investment:{user}:{pool key}
//	vault bet record  bet_record:{bet_id}
package keys

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

const Platform = "platform"

var (
	ErrInvalidIdentity = errors.New("keys: invalid identity")
	ErrInvalidKey      = errors.New("keys: invalid record key")
	ErrInvalidBetID    = errors.New("keys: invalid bet id")
)

// Identities are account addresses: base58/base64url-ish tokens, never
// containing the ':' separator.
var identityRegex = regexp.MustCompile(`^[A-Za-z0-9_.\-]{1,64}$`)

var (
	wagerRegex = regexp.MustCompile(`^bet:([A-Za-z0-9_.\-]{1,64}):(\d{1,19})$`)
	poolRegex  = regexp.MustCompile(`^etf:([A-Za-z0-9_.\-]{1,64}):(\d{1,19})$`)
)

// MaxBetIDLen bounds caller-supplied vault bet ids.
const MaxBetIDLen = 100

// ValidateIdentity checks that an identity can be embedded in a key.
func ValidateIdentity(identity string) error {
	if !identityRegex.MatchString(identity) {
		return fmt.Errorf("%w: %q", ErrInvalidIdentity, identity)
	}
	return nil
}

// ValidateBetID checks a caller-supplied vault bet id.
func ValidateBetID(betID string) error {
	if betID == "" || len(betID) > MaxBetIDLen {
		return fmt.Errorf("%w: length must be 1..%d", ErrInvalidBetID, MaxBetIDLen)
	}
	return nil
}

func User(identity string) string {
	return "user:" + identity
}

func Wager(user string, createdAt time.Time) string {
	return fmt.Sprintf("bet:%s:%d", user, createdAt.Unix())
}

func Pool(manager string, createdAt time.Time) string {
	return fmt.Sprintf("etf:%s:%d", manager, createdAt.Unix())
}

func Investment(user, poolKey string) string {
	return fmt.Sprintf("investment:%s:%s", user, poolKey)
}

func VaultBet(betID string) string {
	return "bet_record:" + betID
}

func VaultAccount(identity string) string {
	return "user_account:" + identity
}

// Scoped is a parsed user- or manager-scoped key. Caller-supplied wager and
// pool ids are parsed before lookup so a malformed id is rejected as such
// instead of reported missing.
type Scoped struct {
	Owner     string
	CreatedAt time.Time
}

// ParseWager splits a wager key into its user and creation time.
func ParseWager(key string) (Scoped, error) {
	return parseScoped(wagerRegex, key)
}

// ParsePool splits a pool key into its manager and creation time.
func ParsePool(key string) (Scoped, error) {
	return parseScoped(poolRegex, key)
}

func parseScoped(re *regexp.Regexp, key string) (Scoped, error) {
	m := re.FindStringSubmatch(key)
	if m == nil {
		return Scoped{}, fmt.Errorf("%w: %s", ErrInvalidKey, key)
	}
	ts, err := strconv.ParseInt(m[2], 10, 64)
	if err != nil {
		return Scoped{}, fmt.Errorf("%w: bad timestamp in %s", ErrInvalidKey, key)
	}
	return Scoped{Owner: m[1], CreatedAt: time.Unix(ts, 0).UTC()}, nil
}
