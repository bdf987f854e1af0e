// Package search answers /search requests from the Index Store: exact lookup
// by canonical PAN or normalised name, with optional entity expansion.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/txsearch/internal/nlp"
	"github.com/Adithya-Monish-Kumar-K/txsearch/internal/store"
	"github.com/Adithya-Monish-Kumar-K/txsearch/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/txsearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/txsearch/pkg/resilience"
)

// maxExpandPANs caps how many PANs a name expansion may pull in.
const maxExpandPANs = 50

// Result is the /search response body. Data is never nil.
type Result struct {
	Count int            `json:"count"`
	Data  []store.Record `json:"data"`
}

// Service runs queries against a shared read-only Store.
type Service struct {
	store              store.Store
	expandNames        int
	phoneticCandidates int
	nameMatchThreshold int
	queryTimeout       time.Duration
	logger             *slog.Logger
}

// NewService creates a Service. queryTimeout bounds each search; zero means
// only the request context applies.
func NewService(s store.Store, cfg config.SearchConfig, queryTimeout time.Duration) *Service {
	return &Service{
		store:              s,
		expandNames:        cfg.ExpandNames,
		phoneticCandidates: cfg.PhoneticCandidates,
		nameMatchThreshold: cfg.NameMatchThreshold,
		queryTimeout:       queryTimeout,
		logger:             slog.Default().With("component", "search-service"),
	}
}

// Search returns up to q.Limit records ordered by tx_id. Without Expand
// every record carries the queried key.
func (s *Service) Search(ctx context.Context, q Query) (*Result, error) {
	records, err := resilience.Bounded(ctx, s.queryTimeout, func(ctx context.Context) ([]store.Record, error) {
		f, err := s.filter(ctx, q)
		if err != nil {
			return nil, err
		}
		return s.store.Records(ctx, f, q.Limit)
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %w", apperrors.ErrTimeout, err)
		}
		return nil, fmt.Errorf("searching index store: %w", err)
	}
	if records == nil {
		records = []store.Record{}
	}
	return &Result{Count: len(records), Data: records}, nil
}

func (s *Service) filter(ctx context.Context, q Query) (store.Filter, error) {
	kind, value := q.Key()
	switch kind {
	case KeyPAN:
		f := store.Filter{PANs: []string{value}}
		if !q.Expand {
			return f, nil
		}
		var names []string
		if s.expandNames > 0 {
			held, err := s.store.NamesForPAN(ctx, value, s.expandNames)
			if err != nil {
				return store.Filter{}, fmt.Errorf("expanding pan: %w", err)
			}
			names = held
		}
		similar, err := s.similarNames(ctx, names)
		if err != nil {
			return store.Filter{}, err
		}
		f.Names = union(names, similar)
		s.logger.Debug("pan expanded", "names", len(f.Names), "similar", len(similar))
		return f, nil
	default:
		f := store.Filter{Names: []string{value}}
		if !q.Expand {
			return f, nil
		}
		similar, err := s.similarNames(ctx, f.Names)
		if err != nil {
			return store.Filter{}, err
		}
		f.Names = union(f.Names, similar)
		for _, name := range f.Names {
			if len(f.PANs) >= maxExpandPANs {
				break
			}
			pans, err := s.store.PANsForName(ctx, name, maxExpandPANs-len(f.PANs))
			if err != nil {
				return store.Filter{}, fmt.Errorf("expanding name: %w", err)
			}
			f.PANs = union(f.PANs, pans)
		}
		if len(f.PANs) > maxExpandPANs {
			f.PANs = f.PANs[:maxExpandPANs]
		}
		s.logger.Debug("name expanded", "names", len(f.Names), "pans", len(f.PANs))
		return f, nil
	}
}

// similarNames blocks stored names on the phonetic keys of base and keeps
// the candidates whose best fuzzy score against any base name reaches the
// match threshold.
func (s *Service) similarNames(ctx context.Context, base []string) ([]string, error) {
	if s.phoneticCandidates <= 0 || len(base) == 0 {
		return nil, nil
	}
	var keys []string
	for _, name := range base {
		if k := nlp.PhoneticKey(name); k != "" {
			keys = union(keys, []string{k})
		}
	}
	if len(keys) == 0 {
		return nil, nil
	}
	candidates, err := s.store.NamesByPhonetic(ctx, keys, s.phoneticCandidates)
	if err != nil {
		return nil, fmt.Errorf("phonetic candidates: %w", err)
	}
	var out []string
	for _, c := range candidates {
		for _, b := range base {
			if nlp.FuzzyNameScore(b, c) >= s.nameMatchThreshold {
				out = append(out, c)
				break
			}
		}
	}
	s.logger.Debug("phonetic match", "keys", keys, "candidates", len(candidates), "kept", len(out))
	return out, nil
}

// union appends the members of b missing from a, preserving order.
func union(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, v := range list {
			if _, ok := seen[v]; ok {
				continue
			}
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	return out
}
