package search

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/txsearch/internal/nlp"
	apperrors "github.com/Adithya-Monish-Kumar-K/txsearch/pkg/errors"
)

// KeyKind names which lookup key a query resolved to.
type KeyKind string

const (
	KeyPAN  KeyKind = "pan"
	KeyName KeyKind = "name"
)

// MissingKeyDetail is the client message when neither key is supplied.
const MissingKeyDetail = "Provide either pan or seed_name"

// Query is a validated search request. PAN is canonical and Name is
// normalised; at most one is used, with PAN taking precedence.
type Query struct {
	PAN    string
	Name   string
	Limit  int
	Expand bool
}

// ParseQuery validates the /search parameters. Whitespace-only values count
// as absent. A limit above maxLimit is clamped.
func ParseQuery(values url.Values, defaultLimit, maxLimit int) (Query, error) {
	pan := strings.TrimSpace(values.Get("pan"))
	name := strings.TrimSpace(values.Get("seed_name"))
	if pan == "" && name == "" {
		return Query{}, apperrors.New(apperrors.ErrMissingParameter, http.StatusBadRequest, MissingKeyDetail)
	}

	q := Query{Limit: defaultLimit}
	if pan != "" {
		q.PAN = nlp.CanonicalizePAN(pan)
	} else {
		q.Name = nlp.NormalizeName(name)
	}

	if raw := strings.TrimSpace(values.Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return Query{}, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest,
				"limit must be a positive integer")
		}
		q.Limit = min(n, maxLimit)
	}

	if raw := strings.TrimSpace(values.Get("expand")); raw != "" {
		expand, err := strconv.ParseBool(raw)
		if err != nil {
			return Query{}, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest,
				"expand must be a boolean")
		}
		q.Expand = expand
	}
	return q, nil
}

// Key returns the lookup key kind and its canonical value.
func (q Query) Key() (KeyKind, string) {
	if q.PAN != "" {
		return KeyPAN, q.PAN
	}
	return KeyName, q.Name
}
