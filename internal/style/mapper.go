// Package style resolves a KML style URL for a catalog entry from a table of
// attribute rules.
package style

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mohammed-shakir/catalog-kml/internal/core/model"
)

// DateLayout is the second-granularity layout DATE rules are written in.
const DateLayout = "2006-01-02T15:04:05"

var ErrInvalidRule = errors.New("style rule needs a non-blank attribute name and value")

var mappingPattern = regexp.MustCompile(`(.*)=(.*);(.*)`)

type Rule struct {
	AttributeName  string
	AttributeValue string
	StyleURL       string
}

func (r Rule) String() string {
	return r.AttributeName + "=" + r.AttributeValue + ";" + r.StyleURL
}

type ruleKey struct {
	name, value string
}

// Mapper holds style rules keyed by (attribute name, attribute value).
//
// Rules are kept in a map. When more than one rule matches an entry the
// winner is whichever the map yields first, which is not stable across
// calls. Configure non-overlapping rules.
type Mapper struct {
	mu    sync.RWMutex
	rules map[ruleKey]string
	log   *slog.Logger
}

func NewMapper(log *slog.Logger) *Mapper {
	if log == nil {
		log = slog.Default()
	}
	return &Mapper{rules: make(map[ruleKey]string), log: log}
}

// AddRule inserts or replaces the rule for (name, value). A blank url is a
// valid "no style" outcome.
func (m *Mapper) AddRule(name, value, url string) error {
	if strings.TrimSpace(name) == "" || strings.TrimSpace(value) == "" {
		return fmt.Errorf("%w: %q=%q", ErrInvalidRule, name, value)
	}
	m.mu.Lock()
	m.rules[ruleKey{name, value}] = url
	m.mu.Unlock()
	return nil
}

// Load replaces the rule table from "attributeName=attributeValue;styleUrl"
// strings. Entries that do not fit that shape are skipped.
func (m *Mapper) Load(mappings []string) {
	rules := make(map[ruleKey]string, len(mappings))
	for _, s := range mappings {
		parts := mappingPattern.FindStringSubmatch(s)
		if len(parts) != 4 {
			continue
		}
		if strings.TrimSpace(parts[1]) == "" || strings.TrimSpace(parts[2]) == "" {
			continue
		}
		rules[ruleKey{parts[1], parts[2]}] = parts[3]
	}
	m.mu.Lock()
	m.rules = rules
	m.mu.Unlock()
}

func (m *Mapper) Rules() []Rule {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Rule, 0, len(m.rules))
	for k, url := range m.rules {
		out = append(out, Rule{AttributeName: k.name, AttributeValue: k.value, StyleURL: url})
	}
	return out
}

// Mappings renders the rule table back to its string form.
func (m *Mapper) Mappings() []string {
	rules := m.Rules()
	out := make([]string, 0, len(rules))
	for _, r := range rules {
		out = append(out, r.String())
	}
	return out
}

// StyleFor returns the style URL of the first rule matching the entry, or ""
// when none does.
func (m *Mapper) StyleFor(e model.Entry) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for k, url := range m.rules {
		attr, ok := e.Attribute(k.name)
		if !ok || attr.Value == nil {
			continue
		}
		if m.matches(attr, k.value) {
			return url
		}
	}
	return ""
}

func (m *Mapper) matches(attr model.Attribute, want string) bool {
	switch attr.Format {
	case model.FormatString, model.FormatXML, model.FormatGeometry:
		return fmt.Sprint(attr.Value) == want
	case model.FormatBoolean:
		b, ok := attr.Value.(bool)
		return ok && b == strings.EqualFold(want, "true")
	case model.FormatDate:
		return m.dateMatches(attr, want)
	case model.FormatShort:
		return m.intMatches(attr, want, 16)
	case model.FormatInteger:
		return m.intMatches(attr, want, 32)
	case model.FormatLong:
		return m.intMatches(attr, want, 64)
	case model.FormatFloat:
		return m.floatMatches(attr, want, 32)
	case model.FormatDouble:
		return m.floatMatches(attr, want, 64)
	default:
		// BINARY and OBJECT have no comparison.
		return false
	}
}

// ruleDateText drops text trailing a complete DateLayout value, so rules such
// as "2023-01-01T00:00:00Z" or "2023-01-01T00:00:00.000" compare on their
// first 19 characters. A digit right after the seconds is kept and fails
// parsing.
func ruleDateText(want string) string {
	n := len(DateLayout)
	if len(want) > n && (want[n] < '0' || want[n] > '9') {
		return want[:n]
	}
	return want
}

func (m *Mapper) dateMatches(attr model.Attribute, want string) bool {
	ruleDate, err := time.ParseInLocation(DateLayout, ruleDateText(want), time.UTC)
	if err != nil {
		m.log.Warn("unable to parse style rule date", "attribute", attr.Name, "value", want, "err", err)
		return false
	}
	var have time.Time
	switch v := attr.Value.(type) {
	case time.Time:
		have = v
	case *time.Time:
		if v == nil {
			return false
		}
		have = *v
	default:
		return false
	}
	return ruleDate.UTC().Format(DateLayout) == have.UTC().Format(DateLayout)
}

func (m *Mapper) intMatches(attr model.Attribute, want string, bits int) bool {
	n, err := strconv.ParseInt(strings.TrimSpace(want), 10, bits)
	if err != nil {
		m.log.Warn("unable to parse style rule number", "attribute", attr.Name, "format", attr.Format.String(), "value", want, "err", err)
		return false
	}
	rv := reflect.ValueOf(attr.Value)
	switch {
	case rv.CanInt():
		return rv.Int() == n
	case rv.CanUint():
		return n >= 0 && rv.Uint() == uint64(n)
	case rv.CanFloat():
		return rv.Float() == float64(n)
	}
	return false
}

func (m *Mapper) floatMatches(attr model.Attribute, want string, bits int) bool {
	f, err := strconv.ParseFloat(strings.TrimSpace(want), bits)
	if err != nil {
		m.log.Warn("unable to parse style rule number", "attribute", attr.Name, "format", attr.Format.String(), "value", want, "err", err)
		return false
	}
	rv := reflect.ValueOf(attr.Value)
	switch {
	case rv.CanFloat():
		// FLOAT compares at float32 precision on both sides.
		if bits == 32 {
			return float32(rv.Float()) == float32(f)
		}
		return rv.Float() == f
	case rv.CanInt():
		return float64(rv.Int()) == f
	case rv.CanUint():
		return float64(rv.Uint()) == f
	}
	return false
}
