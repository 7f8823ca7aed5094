package transform

import (
	"errors"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
)

var ErrNotAbsolute = errors.New("request url is not absolute")

// UpdateURL derives the subscription update endpoint from the request URL.
// The path is cut at the first "query", "kml/update" takes its place, and
// the query string carries the subscription id plus whatever follows the
// last "bbox=" of the request query. Without a "bbox=" that is the whole
// request query.
func UpdateURL(raw, subscriptionID string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("update url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("update url %q: %w", raw, ErrNotAbsolute)
	}

	path, _, _ := strings.Cut(u.Path, "query")
	if strings.HasSuffix(path, "/") {
		path += "kml/update"
	} else {
		path += "/kml/update"
	}

	bbox := lastSegment(u.RawQuery, "bbox=")

	out := url.URL{
		Scheme:   u.Scheme,
		User:     u.User,
		Host:     u.Host,
		Path:     path,
		RawQuery: "subscription=" + url.QueryEscape(subscriptionID) + "&bbox=" + bbox,
	}
	return out.String(), nil
}

// lastSegment splits s on sep, drops trailing empty pieces and returns the
// last one left, or "" when none is.
func lastSegment(s, sep string) string {
	parts := strings.Split(s, sep)
	for len(parts) > 0 && parts[len(parts)-1] == "" {
		parts = parts[:len(parts)-1]
	}
	if len(parts) == 0 {
		return ""
	}
	return parts[len(parts)-1]
}

// RestURL points at the entry in the catalog REST service on the same host
// as the request. An unparsable request URL is returned as is.
func RestURL(raw, id string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	out := url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/services/catalog/" + id}
	return out.String()
}

// ParseInterval reads a refresh interval in seconds. Absent, unparsable or
// non-finite input yields def.
func ParseInterval(s string, def float64) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return def
	}
	return f
}
