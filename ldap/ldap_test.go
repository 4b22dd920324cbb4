package ldap

import (
	b64 "encoding/base64"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mediacache/mediacache/config"

	"github.com/JonasScharpf/godap/godap"
	auth "github.com/abbot/go-http-auth"
)

const ldapAddress = "127.0.0.1:10389"

func loadFakeLdapConfig(t *testing.T) *config.Config {
	t.Helper()

	yaml := `dir: /opt/cache-dir
ldap:
  url: ldap://` + ldapAddress + `/
  base_dn: OU=My Users,DC=example,DC=com
  username_attribute: uid
  bind_user: CN=read-only-admin,OU=My Users,DC=example,DC=com
  bind_password: "1234"
  cache_time: 3600s
  groups:
   - CN=media-users,OU=Groups,OU=My Users,DC=example,DC=com
   - CN=other-users,OU=Groups2,OU=Alien Users,DC=foo,DC=org
`

	cfg, err := config.NewConfigFromYaml([]byte(yaml))
	if err != nil {
		t.Fatal(err)
	}
	return cfg
}

var usersPasswords = map[string]string{
	"CN=read-only-admin,OU=My Users,DC=example,DC=com": "1234",
	"user":                                  "password",
	"cn=user,OU=My Users,DC=example,DC=com": "password",
}

func verifyUserPass(username string, password string) bool {
	wantPass, hasUser := usersPasswords[username]
	if !hasUser {
		log.Printf("No such user '%s'", username)
		return false
	}
	return wantPass == password
}

func userEntry(user, baseDN string, skip bool) *godap.LDAPSimpleSearchResultEntry {
	return &godap.LDAPSimpleSearchResultEntry{
		DN: "cn=" + user + "," + baseDN,
		Attrs: map[string]interface{}{
			"cn":           user,
			"sn":           user,
			"uid":          user,
			"userPassword": b64.StdEncoding.EncodeToString([]byte(user)),
			"objectClass": []string{
				"top",
				"posixAccount",
				"inetOrgPerson",
			},
		},
		Skip: skip,
	}
}

var startLdapOnce sync.Once

func startLdapServer() {
	startLdapOnce.Do(func() {
		hs := []godap.LDAPRequestHandler{
			&godap.LDAPBindFuncHandler{
				LDAPBindFunc: func(binddn string, bindpw []byte) bool {
					return verifyUserPass(binddn, string(bindpw))
				},
			},
			&godap.LDAPSimpleSearchFuncHandler{
				LDAPSimpleSearchFunc: func(req *godap.LDAPSimpleSearchRequest) []*godap.LDAPSimpleSearchResultEntry {
					switch req.FilterAttr {
					case "uid":
						return []*godap.LDAPSimpleSearchResultEntry{
							userEntry(req.FilterValue, req.BaseDN, false),
						}

					case "searchFingerprint":
						// A compound filter. The fake treats the username
						// attribute as the verdict: "pass" finds the user,
						// anything else finds nothing.
						filterValues := strings.Split(req.FilterValue, ";")
						if len(filterValues) < 2 {
							return nil
						}
						user := filterValues[1]
						return []*godap.LDAPSimpleSearchResultEntry{
							userEntry(user, req.BaseDN, filterValues[0] != "pass"),
						}
					}

					return nil
				},
			},
		}

		s := &godap.LDAPServer{
			Handlers: hs,
		}

		go s.ListenAndServe(ldapAddress)

		// Connections are refused until the listener is up.
		time.Sleep(50 * time.Millisecond)
	})
}

func TestGroupsQuery(t *testing.T) {
	tcs := []struct {
		groups   []string
		expected string
	}{
		{nil, ""},
		{[]string{"CN=a,DC=x"}, "(|(memberOf=CN=a,DC=x))"},
		{[]string{"CN=a,DC=x", "CN=b,DC=y"}, "(|(memberOf=CN=a,DC=x)(memberOf=CN=b,DC=y))"},
	}

	for _, tc := range tcs {
		result := groupsQuery(tc.groups)
		if result != tc.expected {
			t.Errorf("groupsQuery(%v): got %q, expected %q", tc.groups, result, tc.expected)
		}
	}
}

func TestNewConnection(t *testing.T) {
	cfg := loadFakeLdapConfig(t)

	ldapAuthenticator, err := New(cfg.LDAP)
	if ldapAuthenticator != nil {
		t.Fatal("No connection should be established to", cfg.LDAP.URL)
	}
	if err == nil {
		t.Fatal("An error should raise while connecting to", cfg.LDAP.URL)
	}

	startLdapServer()

	ldapAuthenticator, err = New(cfg.LDAP)
	if err != nil {
		t.Fatal("No error should raise while connecting to", cfg.LDAP.URL, err)
	}
	if ldapAuthenticator.Realm != Realm {
		t.Fatalf("Unexpected realm %q", ldapAuthenticator.Realm)
	}

	// set an invalid bind password
	cfg.LDAP.BindPassword = "asdf"
	ldapAuthenticator, err = New(cfg.LDAP)
	if ldapAuthenticator != nil {
		t.Fatal("No connection should be established with", cfg.LDAP.BindPassword)
	}
	if err == nil {
		t.Fatal("An error should raise while connecting with", cfg.LDAP.BindPassword)
	}
}

func TestAuth(t *testing.T) {
	cfg := loadFakeLdapConfig(t)

	// allow the onwards used user to successfully login
	cfg.LDAP.UsernameAttribute = "pass"

	startLdapServer()

	ldapAuthenticator, err := New(cfg.LDAP)
	if err != nil {
		t.Fatal("No error should raise while connecting to", cfg.LDAP.URL, err)
	}

	srv := startHttpServer(ldapAuthenticator)
	defer srv.Close()

	code, body := crawlHttpPage(t, srv.URL)
	if code != http.StatusOK || body != "Unrestricted" {
		t.Fatalf("Expected 'Unrestricted' from the root page, got %d %q", code, body)
	}

	code, _ = crawlHttpPage(t, srv.URL+"/secret")
	if code != http.StatusUnauthorized {
		t.Fatalf("Expected an anonymous request to be refused, got %d", code)
	}

	code, body = crawlHttpPage(t, srv.URL+"/secret", "user", usersPasswords["user"])
	if code != http.StatusOK || body != "Logged in" {
		t.Fatalf("Expected 'Logged in' from the secret page, got %d %q", code, body)
	}

	code, _ = crawlHttpPage(t, srv.URL+"/secret", "user", "wrong")
	if code != http.StatusUnauthorized {
		t.Fatalf("Expected a wrong password to be refused, got %d", code)
	}
}

func TestAuthNotInGroup(t *testing.T) {
	cfg := loadFakeLdapConfig(t)

	// The fake finds nobody for this attribute.
	cfg.LDAP.UsernameAttribute = "fail"

	startLdapServer()

	ldapAuthenticator, err := New(cfg.LDAP)
	if err != nil {
		t.Fatal(err)
	}

	srv := startHttpServer(ldapAuthenticator)
	defer srv.Close()

	code, _ := crawlHttpPage(t, srv.URL+"/secret", "user", usersPasswords["user"])
	if code != http.StatusUnauthorized {
		t.Fatalf("Expected a user outside the groups to be refused, got %d", code)
	}
}

func startHttpServer(ldapAuth auth.AuthenticatorInterface) *httptest.Server {
	mux := http.NewServeMux()

	mux.HandleFunc("/", func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Path != "/" {
			http.NotFound(w, req)
			return
		}
		fmt.Fprintf(w, "Unrestricted")
	})
	mux.HandleFunc("/secret", auth.JustCheck(ldapAuth,
		func(w http.ResponseWriter, req *http.Request) {
			fmt.Fprintf(w, "Logged in")
		}))

	return httptest.NewServer(mux)
}

func crawlHttpPage(t *testing.T, params ...string) (int, string) {
	t.Helper()

	client := http.Client{Timeout: 5 * time.Second}

	req, err := http.NewRequest(http.MethodGet, params[0], http.NoBody)
	if err != nil {
		t.Fatal(err)
	}

	if len(params) == 3 {
		req.SetBasicAuth(params[1], params[2])
	}

	res, err := client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()

	resBody, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatal(err)
	}

	return res.StatusCode, string(resBody)
}

func TestNewContext(t *testing.T) {
	cfg := loadFakeLdapConfig(t)
	cfg.LDAP.UsernameAttribute = "pass"

	startLdapServer()

	ldapAuthenticator, err := New(cfg.LDAP)
	if err != nil {
		t.Fatal(err)
	}

	r := httptest.NewRequest(http.MethodGet, "/avatars", nil)
	info := InfoFromContext(ldapAuthenticator.NewContext(r.Context(), r))
	if info == nil || info.Authenticated {
		t.Fatalf("Expected an unauthenticated info, got %+v", info)
	}
	if info.ResponseHeaders.Get("WWW-Authenticate") == "" {
		t.Error("Expected a WWW-Authenticate challenge")
	}

	r.SetBasicAuth("user", usersPasswords["user"])
	info = InfoFromContext(ldapAuthenticator.NewContext(r.Context(), r))
	if info == nil || !info.Authenticated || info.Username != "user" {
		t.Fatalf("Expected user to be authenticated, got %+v", info)
	}
}
