package ldap

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/mediacache/mediacache/config"

	auth "github.com/abbot/go-http-auth"
	ldap "github.com/go-ldap/ldap/v3"
)

// Realm is sent to clients that fail to authenticate.
const Realm = "mediacache"

// How long a failed authentication is remembered. Kept short since it is
// most likely a mistyped password.
const negativeCacheTime = 5 * time.Second

// Cache represents a cache of LDAP query results so that many concurrent
// requests don't DDoS the LDAP server.
type Cache struct {
	*auth.BasicAuth
	m           sync.Map
	config      *config.LDAPConfig
	groupsQuery string
}

// result memoizes one (user, password) lookup. The first caller for a
// pair performs the LDAP round trip while later callers wait on the
// mutex.
type result struct {
	mu     sync.Mutex
	done   bool
	authed bool
}

// New returns an authenticator backed by the LDAP server in config. The
// configured bind credentials are checked before it returns.
func New(config *config.LDAPConfig) (*Cache, error) {
	c := &Cache{
		config:      config,
		groupsQuery: groupsQuery(config.Groups),
		BasicAuth: &auth.BasicAuth{
			Realm: Realm,
		},
	}

	conn, err := c.bind()
	if err != nil {
		return nil, err
	}
	_ = conn.Close()

	return c, nil
}

// groupsQuery returns a filter clause matching members of any of groups,
// or an empty string if groups is empty.
func groupsQuery(groups []string) string {
	if len(groups) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("(|")
	for _, group := range groups {
		fmt.Fprintf(&sb, "(memberOf=%s)", group)
	}
	sb.WriteString(")")
	return sb.String()
}

func (c *Cache) bind() (*ldap.Conn, error) {
	conn, err := ldap.DialURL(c.config.URL)
	if err != nil {
		return nil, err
	}

	if c.config.BindUser == "" {
		err = conn.UnauthenticatedBind("")
	} else {
		err = conn.Bind(c.config.BindUser, c.config.BindPassword)
	}
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	return conn, nil
}

// authenticate consults the cache before asking the LDAP server.
// Successes are remembered for CacheTime, failures for
// negativeCacheTime.
func (c *Cache) authenticate(user, password string) bool {
	k := [2]string{user, password}
	v, _ := c.m.LoadOrStore(k, &result{})
	r := v.(*result)

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.done {
		return r.authed
	}

	r.authed = c.query(user, password)
	r.done = true

	ttl := c.config.CacheTime
	if !r.authed {
		ttl = negativeCacheTime
	}
	time.AfterFunc(ttl, func() { c.m.Delete(k) })

	return r.authed
}

func (c *Cache) query(user, password string) bool {
	conn, err := c.bind()
	if err != nil {
		log.Println("LDAP bind failed:", err)
		return false
	}
	defer func() { _ = conn.Close() }()

	query := fmt.Sprintf("(&(%s=%s)%s)", c.config.UsernameAttribute,
		ldap.EscapeFilter(user), c.groupsQuery)

	searchRequest := ldap.NewSearchRequest(
		c.config.BaseDN,
		ldap.ScopeWholeSubtree, ldap.NeverDerefAliases, 0, 0, false,
		query,
		[]string{"cn", "dn"},
		nil,
	)

	sr, err := conn.Search(searchRequest)
	if err != nil || len(sr.Entries) != 1 {
		return false
	}

	// Do they have the right credentials?
	return conn.Bind(sr.Entries[0].DN, password) == nil
}

// CheckAuth returns the name of the user whose basic auth credentials
// in r are accepted by the LDAP server, or an empty string. It takes
// the place of the htpasswd lookup of the embedded BasicAuth.
func (c *Cache) CheckAuth(r *http.Request) string {
	user, password, ok := r.BasicAuth()
	if !ok || password == "" {
		return ""
	}

	if !c.authenticate(user, password) {
		return ""
	}

	return user
}

// Wrap returns a handler that only calls wrapped for authenticated
// requests, and asks for credentials otherwise.
func (c *Cache) Wrap(wrapped auth.AuthenticatedHandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := c.CheckAuth(r)
		if user == "" {
			c.RequireAuth(w, r)
			return
		}

		wrapped(w, &auth.AuthenticatedRequest{Request: *r, Username: user})
	}
}

type infoKey struct{}

// NewContext returns a context carrying the auth.Info for r. It can be
// read back with InfoFromContext.
func (c *Cache) NewContext(ctx context.Context, r *http.Request) context.Context {
	info := &auth.Info{
		Username:        c.CheckAuth(r),
		ResponseHeaders: make(http.Header),
	}

	info.Authenticated = info.Username != ""
	if !info.Authenticated {
		info.ResponseHeaders.Set(c.Headers.V().Authenticate, `Basic realm="`+c.Realm+`"`)
	}

	return context.WithValue(ctx, infoKey{}, info)
}

// InfoFromContext returns the auth.Info stored by NewContext, or nil.
func InfoFromContext(ctx context.Context) *auth.Info {
	info, _ := ctx.Value(infoKey{}).(*auth.Info)
	return info
}
