package session

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/wizesale/storefront/internal/platform/requestctx"
)

const (
	// StoreCookieName carries the resolved tenant id between page loads.
	StoreCookieName = "storeId"

	defaultCookieName = "WIZESALE_SESSION"
	sessionLifetime   = 30 * 24 * time.Hour
)

// Data is the signed session cookie payload.
type Data struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
}

// Options configures a Manager.
type Options struct {
	CookieName     string
	SigningKey     []byte
	Secure         bool
	StoreCookieTTL time.Duration
	Clock          func() time.Time
	NewID          func() string
}

// Manager issues and verifies the signed session cookie and the storeId cookie.
type Manager struct {
	cookieName     string
	key            []byte
	secure         bool
	storeCookieTTL time.Duration
	now            func() time.Time
	newID          func() string
}

// NewManager validates options and returns a Manager.
func NewManager(opts Options) (*Manager, error) {
	if len(opts.SigningKey) == 0 {
		return nil, errors.New("session: signing key is required")
	}
	name := strings.TrimSpace(opts.CookieName)
	if name == "" {
		name = defaultCookieName
	}
	ttl := opts.StoreCookieTTL
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	now := opts.Clock
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	newID := opts.NewID
	if newID == nil {
		newID = func() string { return ulid.Make().String() }
	}
	return &Manager{
		cookieName:     name,
		key:            append([]byte(nil), opts.SigningKey...),
		secure:         opts.Secure,
		storeCookieTTL: ttl,
		now:            now,
		newID:          newID,
	}, nil
}

// Middleware attaches the session id to the request context, minting and
// setting a new cookie when the request carries none or a tampered one.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, ok := m.read(r)
		if !ok {
			data = Data{ID: m.newID(), CreatedAt: m.now()}
			m.write(w, data)
		}
		ctx := requestctx.WithSessionID(r.Context(), data.ID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *Manager) read(r *http.Request) (Data, bool) {
	c, err := r.Cookie(m.cookieName)
	if err != nil || c.Value == "" {
		return Data{}, false
	}
	encodedPayload, encodedSig, found := strings.Cut(c.Value, ".")
	if !found {
		return Data{}, false
	}
	payload, err := base64.RawURLEncoding.DecodeString(encodedPayload)
	if err != nil {
		return Data{}, false
	}
	sig, err := base64.RawURLEncoding.DecodeString(encodedSig)
	if err != nil {
		return Data{}, false
	}
	if !hmac.Equal(sig, m.sign(payload)) {
		return Data{}, false
	}
	var data Data
	if err := json.Unmarshal(payload, &data); err != nil || strings.TrimSpace(data.ID) == "" {
		return Data{}, false
	}
	return data, true
}

func (m *Manager) write(w http.ResponseWriter, data Data) {
	payload, _ := json.Marshal(data)
	value := base64.RawURLEncoding.EncodeToString(payload) + "." + base64.RawURLEncoding.EncodeToString(m.sign(payload))
	http.SetCookie(w, &http.Cookie{
		Name:     m.cookieName,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
		Expires:  m.now().Add(sessionLifetime),
	})
}

func (m *Manager) sign(payload []byte) []byte {
	mac := hmac.New(sha256.New, m.key)
	mac.Write(payload)
	return mac.Sum(nil)
}

// StoreIDFromCookie returns the storeId cookie value when it parses as a positive id.
func StoreIDFromCookie(r *http.Request) (int64, bool) {
	c, err := r.Cookie(StoreCookieName)
	if err != nil {
		return 0, false
	}
	id, err := strconv.ParseInt(strings.TrimSpace(c.Value), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// WriteStoreCookie pins the tenant for StoreCookieTTL. The page layer reads it
// too, so it is not HttpOnly.
func (m *Manager) WriteStoreCookie(w http.ResponseWriter, storeID int64) {
	http.SetCookie(w, &http.Cookie{
		Name:     StoreCookieName,
		Value:    strconv.FormatInt(storeID, 10),
		Path:     "/",
		MaxAge:   int(m.storeCookieTTL / time.Second),
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
}
