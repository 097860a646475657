package region

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/angelmondragon/storefront-engine/internal/state"
	pkgerrors "github.com/angelmondragon/storefront-engine/pkg/errors"
	"github.com/angelmondragon/storefront-engine/pkg/logger"
	"github.com/angelmondragon/storefront-engine/pkg/medusa"
	"github.com/angelmondragon/storefront-engine/pkg/observable"
	"golang.org/x/sync/singleflight"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// Selection pairs a country with the backend region and currency serving it.
// The zero value means nothing is selected.
type Selection struct {
	CountryCode  string `json:"country_code"`
	Label        string `json:"label"`
	CurrencyCode string `json:"currency_code"`
	RegionID     string `json:"region_id"`
}

// IsZero reports whether no selection is set.
func (s Selection) IsZero() bool {
	return s.RegionID == ""
}

type regionLister interface {
	ListRegions(ctx context.Context) ([]medusa.Region, error)
}

// Selector owns the active (country, region, currency) triple for one shopper.
type Selector struct {
	client         regionLister
	store          state.Store
	logg           *logger.Logger
	defaultCountry string

	loads singleflight.Group

	mu        sync.RWMutex
	regions   []medusa.Region
	options   []Selection
	persisted Selection

	active *observable.Value[Selection]
}

// NewSelector builds a selector. defaultCountry is the ISO-2 code preferred by EnsureDefault.
func NewSelector(client regionLister, store state.Store, defaultCountry string, logg *logger.Logger) (*Selector, error) {
	if client == nil {
		return nil, fmt.Errorf("region client required")
	}
	if store == nil {
		return nil, fmt.Errorf("state store required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &Selector{
		client:         client,
		store:          store,
		logg:           logg,
		defaultCountry: strings.ToLower(strings.TrimSpace(defaultCountry)),
		active:         observable.New(Selection{}),
	}, nil
}

// LoadRegions fetches the region list and replaces the cached regions and
// options in one step. On failure the previous regions, options and selection
// are kept. A persisted selection whose region disappeared is re-resolved by
// country, or cleared when the country is no longer served.
//
// Concurrent loads share one backend call. The shared call is detached from
// any single caller's cancellation and bounded by the client timeout; each
// caller still stops waiting when its own context ends.
func (s *Selector) LoadRegions(ctx context.Context) error {
	shared := context.WithoutCancel(ctx)
	ch := s.loads.DoChan("regions", func() (any, error) {
		return s.client.ListRegions(shared)
	})
	var result singleflight.Result
	select {
	case <-ctx.Done():
		return ctx.Err()
	case result = <-ch:
	}
	if result.Err != nil {
		return result.Err
	}
	regions := result.Val.([]medusa.Region)
	options := DeriveCountryOptions(regions)

	s.mu.Lock()
	s.regions = append([]medusa.Region(nil), regions...)
	s.options = options
	s.mu.Unlock()

	s.reresolve(ctx, options)
	return nil
}

func (s *Selector) reresolve(ctx context.Context, options []Selection) {
	current := s.active.Current()
	if current.IsZero() {
		return
	}
	for _, opt := range options {
		if opt == current {
			return
		}
	}
	for _, opt := range options {
		if opt.CountryCode == current.CountryCode {
			s.logg.Info(s.logg.WithRegionID(ctx, opt.RegionID), "region selection re-resolved after reload")
			s.apply(ctx, opt)
			return
		}
	}
	s.logg.Warn(s.logg.WithRegionID(ctx, current.RegionID), "selected country no longer served; clearing selection")
	if err := s.Clear(ctx); err != nil {
		s.logg.Error(ctx, "failed to clear stale region selection", err)
	}
}

// DeriveCountryOptions flattens every region's countries into options sorted by label.
func DeriveCountryOptions(regions []medusa.Region) []Selection {
	options := make([]Selection, 0)
	for _, region := range regions {
		for _, country := range region.Countries {
			code := strings.ToLower(strings.TrimSpace(country.ISO2))
			if code == "" {
				continue
			}
			options = append(options, Selection{
				CountryCode:  code,
				Label:        country.Label(),
				CurrencyCode: strings.ToLower(region.CurrencyCode),
				RegionID:     region.ID,
			})
		}
	}

	collator := collate.New(language.English, collate.Loose)
	sort.SliceStable(options, func(i, j int) bool {
		if cmp := collator.CompareString(options[i].Label, options[j].Label); cmp != 0 {
			return cmp < 0
		}
		return options[i].CountryCode < options[j].CountryCode
	})
	return options
}

// SelectCountry makes sel the active selection, persists it and notifies
// subscribers. Selecting the already active and persisted value does nothing;
// an active value whose earlier write failed is persisted again without a
// second notification.
func (s *Selector) SelectCountry(ctx context.Context, sel Selection) error {
	sel.CountryCode = strings.ToLower(strings.TrimSpace(sel.CountryCode))
	if sel.CountryCode == "" || sel.RegionID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "selection requires a country and a region")
	}
	if s.active.Current() == sel {
		if s.persistedSelection() == sel {
			return nil
		}
		s.persist(ctx, sel)
		return nil
	}
	s.apply(ctx, sel)
	return nil
}

// SelectCountryCode selects the loaded option for an ISO-2 country code.
func (s *Selector) SelectCountryCode(ctx context.Context, code string) (Selection, error) {
	opt, ok := s.option(code)
	if !ok {
		return Selection{}, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("country %q is not served by any region", code))
	}
	if err := s.SelectCountry(ctx, opt); err != nil {
		return Selection{}, err
	}
	return opt, nil
}

// EnsureDefault picks a selection when none is active: the configured default
// country when it is served, otherwise the first option.
func (s *Selector) EnsureDefault(ctx context.Context) (Selection, error) {
	if current := s.active.Current(); !current.IsZero() {
		return current, nil
	}
	s.mu.RLock()
	options := s.options
	s.mu.RUnlock()
	if len(options) == 0 {
		return Selection{}, pkgerrors.New(pkgerrors.CodeNotFound, "no regions available")
	}

	choice := options[0]
	if opt, ok := s.option(s.defaultCountry); ok {
		choice = opt
	}
	if err := s.SelectCountry(ctx, choice); err != nil {
		return Selection{}, err
	}
	return choice, nil
}

// Restore loads the persisted selection, if any, without writing it back.
func (s *Selector) Restore(ctx context.Context) error {
	raw, found, err := s.store.Get(ctx, state.KeyRegionSelection)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load region selection")
	}
	if !found {
		return nil
	}
	var sel Selection
	if err := json.Unmarshal(raw, &sel); err != nil || sel.IsZero() {
		s.logg.Warn(ctx, "discarding unreadable region selection")
		return s.store.Remove(ctx, state.KeyRegionSelection)
	}
	s.setPersisted(sel)
	s.active.Set(sel)
	return nil
}

// Clear drops the active selection and its persisted copy.
func (s *Selector) Clear(ctx context.Context) error {
	if err := s.store.Remove(ctx, state.KeyRegionSelection); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "remove region selection")
	}
	s.setPersisted(Selection{})
	if !s.active.Current().IsZero() {
		s.active.Set(Selection{})
	}
	return nil
}

// Active returns the current selection.
func (s *Selector) Active() (Selection, bool) {
	current := s.active.Current()
	return current, !current.IsZero()
}

// Subscribe registers fn for every selection change. The returned func unsubscribes.
func (s *Selector) Subscribe(fn func(Selection)) func() {
	return s.active.Subscribe(fn)
}

// Regions returns the last successfully loaded regions.
func (s *Selector) Regions() []medusa.Region {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]medusa.Region(nil), s.regions...)
}

// Options returns the country options derived from the last load.
func (s *Selector) Options() []Selection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Selection(nil), s.options...)
}

// Region returns the loaded region with id.
func (s *Selector) Region(id string) (medusa.Region, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, region := range s.regions {
		if region.ID == id {
			return region, true
		}
	}
	return medusa.Region{}, false
}

func (s *Selector) option(code string) (Selection, bool) {
	code = strings.ToLower(strings.TrimSpace(code))
	if code == "" {
		return Selection{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, opt := range s.options {
		if opt.CountryCode == code {
			return opt, true
		}
	}
	return Selection{}, false
}

func (s *Selector) apply(ctx context.Context, sel Selection) {
	s.persist(ctx, sel)
	s.active.Set(sel)
}

// persist writes sel to the store. A failed write is logged and leaves the
// persisted copy unchanged so the next SelectCountry retries it.
func (s *Selector) persist(ctx context.Context, sel Selection) {
	raw, err := json.Marshal(sel)
	if err == nil {
		err = s.store.Set(ctx, state.KeyRegionSelection, raw)
	}
	if err != nil {
		s.logg.Warn(s.logg.WithRegionID(ctx, sel.RegionID), fmt.Sprintf("persist region selection: %v", err))
		return
	}
	s.setPersisted(sel)
}

func (s *Selector) persistedSelection() Selection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.persisted
}

func (s *Selector) setPersisted(sel Selection) {
	s.mu.Lock()
	s.persisted = sel
	s.mu.Unlock()
}
