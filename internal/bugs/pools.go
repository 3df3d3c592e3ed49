package bugs

import (
	"math/rand/v2"
	"strconv"
	"strings"
	"unicode"
)

// Word pools. Never mutated after init.
var (
	verbs = [...]string{
		"compute", "sum", "find", "load", "parse", "count", "merge", "build",
		"check", "validate", "normalize", "collect", "filter", "score", "fetch", "render",
		"process", "resolve", "update", "rank", "index", "audit", "sync", "format",
	}
	subjects = [...]string{
		"order", "user", "sensor", "invoice", "ticket", "session", "metric", "shipment",
		"account", "device", "payment", "review", "booking", "message", "product", "player",
		"course", "vehicle", "patient", "article", "customer", "employee", "parcel", "flight",
		"reading", "sample", "job", "task", "event", "batch", "record", "tenant",
	}
	suffixes = [...]string{"list", "items", "values", "records", "entries", "rows"}
	fields   = [...]string{
		"id", "name", "status", "total", "email", "owner",
		"region", "score", "label", "price", "weight", "code",
	}
	counters = [...]string{"i", "j", "k", "idx", "pos", "cursor"}
)

// params is one random draw of identifiers and literals for a template.
type params struct {
	verb    string
	subject string
	other   string
	suffix  string
	field   string
	counter string
	n1, n2  int
}

func pick[T any](rng *rand.Rand, pool []T) T { return pool[rng.IntN(len(pool))] }

func draw(rng *rand.Rand) params {
	p := params{
		verb:    pick(rng, verbs[:]),
		subject: pick(rng, subjects[:]),
		suffix:  pick(rng, suffixes[:]),
		field:   pick(rng, fields[:]),
		counter: pick(rng, counters[:]),
		n1:      10 + rng.IntN(9990),
		n2:      2 + rng.IntN(499),
	}
	for {
		p.other = pick(rng, subjects[:])
		if p.other != p.subject {
			break
		}
	}
	return p
}

// naming renders identifier parts in a language's convention.
type naming func(parts ...string) string

func snake(parts ...string) string { return strings.Join(parts, "_") }

func camel(parts ...string) string {
	var b strings.Builder
	for i, p := range parts {
		if i == 0 {
			b.WriteString(p)
			continue
		}
		b.WriteString(title(p))
	}
	return b.String()
}

func title(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

// replacer binds template placeholders to the drawn parameters.
func (p params) replacer(name naming) *strings.Replacer {
	return strings.NewReplacer(
		"{fn}", name(p.verb, p.subject, p.suffix),
		"{coll}", name(p.subject, p.suffix),
		"{subj}", p.subject,
		"{Subj}", title(p.subject),
		"{acc}", name(p.other, "total"),
		"{limit}", name("max", p.other),
		"{registry}", name(p.subject, "index"),
		"{sf}", name(p.subject, p.field),
		"{field}", p.field,
		"{Field}", title(p.field),
		"{i}", p.counter,
		"{n1}", strconv.Itoa(p.n1),
		"{n2}", strconv.Itoa(p.n2),
	)
}
