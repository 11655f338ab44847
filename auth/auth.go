package auth

import (
	"net/http"
	"time"

	"github.com/gorilla/sessions"

	"moddash/crypto"
)

const SessionName = "moddash-session"

// CookieSessions persists Session records in an encrypted, signed cookie.
type CookieSessions struct {
	store *sessions.CookieStore
}

// NewCookieSessions derives the signing and encryption keys from secret.
// maxAge bounds the cookie lifetime; the guard enforces the real timeout.
func NewCookieSessions(secret string, maxAge time.Duration, secure bool) *CookieSessions {
	authKey := crypto.DeriveKey(secret, []byte("moddash-session-auth"))
	encKey := crypto.DeriveKey(secret, []byte("moddash-session-encryption"))

	store := sessions.NewCookieStore(authKey, encKey)
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   int(maxAge.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
	return &CookieSessions{store: store}
}

// Load returns the session carried by r. A missing or undecodable cookie
// yields an empty, unauthenticated session.
func (c *CookieSessions) Load(r *http.Request) *Session {
	cs, _ := c.store.Get(r, SessionName)
	sess := &Session{}
	if cs == nil {
		return sess
	}
	sess.Authenticated, _ = cs.Values["authenticated"].(bool)
	sess.Username, _ = cs.Values["username"].(string)
	sess.Role, _ = cs.Values["role"].(string)
	sess.Token, _ = cs.Values["token"].(string)
	if ns, ok := cs.Values["login_time"].(int64); ok {
		sess.LoginTime = time.Unix(0, ns)
	}
	return sess
}

// Save writes sess back to the client. A cleared session expires the
// cookie.
func (c *CookieSessions) Save(w http.ResponseWriter, r *http.Request, sess *Session) error {
	cs, _ := c.store.Get(r, SessionName)
	if sess == nil || !sess.Authenticated {
		cs.Values = map[interface{}]interface{}{}
		cs.Options.MaxAge = -1
		return cs.Save(r, w)
	}
	cs.Values["authenticated"] = true
	cs.Values["username"] = sess.Username
	cs.Values["role"] = sess.Role
	cs.Values["token"] = sess.Token
	cs.Values["login_time"] = sess.LoginTime.UnixNano()
	return cs.Save(r, w)
}
