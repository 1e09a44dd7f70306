package portal

import (
	"regexp"
	"strings"
)

var setCookieRegex = regexp.MustCompile(`(?mi)^Set-Cookie:\s*([^;\r\n]*)`)

// ExtractSetCookies returns the "name=value" part of every Set-Cookie line in a raw header block.
func ExtractSetCookies(head string) []string {
	matches := setCookieRegex.FindAllStringSubmatch(head, -1)
	cookies := make([]string, 0, len(matches))
	for _, m := range matches {
		cookies = append(cookies, strings.TrimSpace(m[1]))
	}
	return cookies
}

// FirstSetCookie returns the first Set-Cookie value verbatim. QIS and LSF expect exactly
// the cookie their login response set, so their flows forward it untouched.
func FirstSetCookie(head string) (string, bool) {
	m := setCookieRegex.FindStringSubmatch(head)
	if m == nil {
		return "", false
	}
	return strings.TrimSpace(m[1]), true
}

// Jar is an ordered name to value cookie map. A Jar belongs to exactly one flow
// invocation and is never shared.
type Jar struct {
	keys   []string
	values map[string]string
}

func NewJar() *Jar {
	return &Jar{values: map[string]string{}}
}

// Set stores a cookie, an existing name keeps its position but takes the new value.
func (j *Jar) Set(name, value string) {
	if _, ok := j.values[name]; !ok {
		j.keys = append(j.keys, name)
	}
	j.values[name] = value
}

func (j *Jar) Get(name string) (string, bool) {
	value, ok := j.values[name]
	return value, ok
}

func (j *Jar) Len() int {
	return len(j.keys)
}

// Merge splits every cookie on its first '=' and stores it. Strings without '='
// are not cookies and are ignored.
func (j *Jar) Merge(cookies ...string) {
	for _, c := range cookies {
		name, value, ok := strings.Cut(c, "=")
		if !ok {
			continue
		}
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		j.Set(name, value)
	}
}

// MergeHead merges every Set-Cookie line of a raw header block.
func (j *Jar) MergeHead(head string) {
	j.Merge(ExtractSetCookies(head)...)
}

// HeaderValue serializes the jar as "name1=value1; name2=value2" in insertion order.
func (j *Jar) HeaderValue() string {
	pairs := make([]string, 0, len(j.keys))
	for _, k := range j.keys {
		pairs = append(pairs, k+"="+j.values[k])
	}
	return strings.Join(pairs, "; ")
}

// CookieHeader renders a "Cookie: ..." header line, an empty value yields no header.
func CookieHeader(value string) (string, bool) {
	if value == "" {
		return "", false
	}
	return "Cookie: " + value, true
}
