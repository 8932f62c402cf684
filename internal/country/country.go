package country

import (
	"errors"
	"fmt"
	"strings"
)

// Code is a supported two-letter country code.
type Code string

const (
	PE Code = "PE"
	CL Code = "CL"
)

var ErrUnsupported = errors.New("unsupported country code")

// Route is everything a country owns downstream of booking.
type Route struct {
	Code     Code
	Table    string // ledger table
	Topic    string // notification channel topic
	Database string // ledger database, one pool per database
	Queue    string // work queue drained by the country consumer
}

// routes is the single source of truth for what a country code means.
// A new country is supported by adding a constant and a row here.
var routes = map[Code]Route{
	PE: {
		Code:     PE,
		Table:    "appointments_pe",
		Topic:    "appointments.pe",
		Database: "appointments_pe",
		Queue:    "appointments:pe",
	},
	CL: {
		Code:     CL,
		Table:    "appointments_cl",
		Topic:    "appointments.cl",
		Database: "appointments_cl",
		Queue:    "appointments:cl",
	},
}

var supported = []Code{PE, CL}

// Parse normalises raw and checks it against the supported set.
func Parse(raw string) (Code, error) {
	code := Code(strings.ToUpper(strings.TrimSpace(raw)))
	if _, ok := routes[code]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupported, raw)
	}
	return code, nil
}

// All returns the supported codes in a stable order.
func All() []Code {
	out := make([]Code, len(supported))
	copy(out, supported)
	return out
}

func (c Code) String() string { return string(c) }

// Lower is the lower-cased code used in topic and event source names.
func (c Code) Lower() string { return strings.ToLower(string(c)) }

// Route returns the routing row for c. It panics on an unknown code,
// which cannot be obtained through Parse.
func (c Code) Route() Route {
	r, ok := routes[c]
	if !ok {
		panic(fmt.Sprintf("country: no route for %q", string(c)))
	}
	return r
}

// Supported reports whether c is in the supported set.
func (c Code) Supported() bool {
	_, ok := routes[c]
	return ok
}

// Validate checks the routing table is exhaustive and unambiguous.
// Every binary calls it once at startup.
func Validate() error {
	if len(routes) != len(supported) {
		return fmt.Errorf("country: %d routes for %d supported codes", len(routes), len(supported))
	}

	seen := map[string]Code{}
	claim := func(kind, name string, c Code) error {
		if name == "" {
			return fmt.Errorf("country: %s has empty %s", c, kind)
		}
		key := kind + "/" + name
		if other, ok := seen[key]; ok {
			return fmt.Errorf("country: %s %q shared by %s and %s", kind, name, other, c)
		}
		seen[key] = c
		return nil
	}

	for _, c := range supported {
		r, ok := routes[c]
		if !ok {
			return fmt.Errorf("country: no route for %s", c)
		}
		if r.Code != c {
			return fmt.Errorf("country: route for %s is labelled %s", c, r.Code)
		}
		for _, f := range []struct{ kind, name string }{
			{"table", r.Table},
			{"topic", r.Topic},
			{"database", r.Database},
			{"queue", r.Queue},
		} {
			if err := claim(f.kind, f.name, c); err != nil {
				return err
			}
		}
	}
	return nil
}
