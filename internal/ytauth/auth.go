package ytauth

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

// Origin is the web origin required on privileged requests.
const Origin = "https://www.youtube.com"

// Cookie is one browser cookie loaded from the cookie file.
type Cookie struct {
	Name   string
	Value  string
	Domain string
}

// Provider supplies session cookies and signed authorization values for
// members-only requests. Cookies come from a Netscape-format cookie file;
// the file is re-read on every snapshot so an exported refresh is picked up
// without a restart.
type Provider struct {
	CookiePath string

	now func() time.Time
}

func NewProvider(cookiePath string) *Provider {
	return &Provider{CookiePath: cookiePath, now: time.Now}
}

// Cookies returns the youtube.com cookies from the configured file. A missing
// or unreadable file yields an empty slice, not an error; anonymous sessions
// work without cookies.
func (p *Provider) Cookies() []Cookie {
	if p == nil || strings.TrimSpace(p.CookiePath) == "" {
		return nil
	}
	data, err := os.ReadFile(p.CookiePath)
	if err != nil {
		return nil
	}
	return parseCookieFile(string(data), "youtube.com")
}

// CookieHeader renders the cookie snapshot as a single Cookie header value.
func (p *Provider) CookieHeader() string {
	cookies := p.Cookies()
	if len(cookies) == 0 {
		return ""
	}
	pairs := make([]string, 0, len(cookies))
	for _, c := range cookies {
		pairs = append(pairs, c.Name+"="+c.Value)
	}
	return strings.Join(pairs, ";")
}

// SAPISID returns the SAPISID cookie value, or "" when absent.
func (p *Provider) SAPISID() string {
	for _, c := range p.Cookies() {
		if c.Name == "SAPISID" {
			return c.Value
		}
	}
	return ""
}

// CanAuthorize reports whether the provider holds the cookie needed to sign
// members-only requests.
func (p *Provider) CanAuthorize() bool { return p.SAPISID() != "" }

// SignedAuthorization computes the SAPISIDHASH authorization header value:
// "SAPISIDHASH <t>_<sha1("<t> <SAPISID> <origin>")>" with t in unix seconds.
func (p *Provider) SignedAuthorization() string {
	return SignedAuthorization(p.SAPISID(), Origin, p.clock()())
}

// ApplyHeaders attaches the cookie header and, when privileged is set, the
// signed authorization and origin headers to an outgoing request.
func (p *Provider) ApplyHeaders(h http.Header, privileged bool) {
	if cookie := p.CookieHeader(); cookie != "" {
		h.Set("Cookie", cookie)
	}
	if privileged {
		h.Set("Authorization", p.SignedAuthorization())
		h.Set("Origin", Origin)
	}
}

func (p *Provider) clock() func() time.Time {
	if p.now != nil {
		return p.now
	}
	return time.Now
}

// SignedAuthorization builds a SAPISIDHASH value for the given inputs.
func SignedAuthorization(sapisid, origin string, now time.Time) string {
	unix := now.Unix()
	sum := sha1.Sum([]byte(fmt.Sprintf("%d %s %s", unix, sapisid, origin)))
	return fmt.Sprintf("SAPISIDHASH %d_%s", unix, hex.EncodeToString(sum[:]))
}

// parseCookieFile reads a Netscape cookies.txt payload and keeps entries
// whose domain contains the given suffix. Lines are
// domain <TAB> includeSubdomains <TAB> path <TAB> secure <TAB> expires <TAB> name <TAB> value.
func parseCookieFile(data, domainContains string) []Cookie {
	var out []Cookie
	for _, line := range strings.Split(data, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		// "#HttpOnly_" prefixed lines are real cookies; bare comments are not.
		if strings.HasPrefix(line, "#") && !strings.HasPrefix(line, "#HttpOnly_") {
			continue
		}
		line = strings.TrimPrefix(line, "#HttpOnly_")
		fields := strings.Split(line, "\t")
		if len(fields) < 7 {
			continue
		}
		domain := strings.TrimSpace(fields[0])
		if !strings.Contains(domain, domainContains) {
			continue
		}
		if expires, err := strconv.ParseInt(strings.TrimSpace(fields[4]), 10, 64); err == nil && expires > 0 {
			if time.Unix(expires, 0).Before(time.Now()) {
				continue
			}
		}
		name := strings.TrimSpace(fields[5])
		if name == "" {
			continue
		}
		out = append(out, Cookie{Name: name, Value: fields[6], Domain: domain})
	}
	return out
}
