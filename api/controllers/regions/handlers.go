package regions

import (
	"net/http"

	"github.com/angelmondragon/storefront-engine/api/middleware"
	"github.com/angelmondragon/storefront-engine/api/responses"
	"github.com/angelmondragon/storefront-engine/api/validators"
	"github.com/angelmondragon/storefront-engine/internal/region"
	"github.com/angelmondragon/storefront-engine/pkg/logger"
	"github.com/angelmondragon/storefront-engine/pkg/medusa"
)

type selectCountryRequest struct {
	CountryCode string `json:"country_code" validate:"required,len=2,alpha"`
}

type regionsResponse struct {
	Regions   []medusa.Region    `json:"regions"`
	Options   []region.Selection `json:"options"`
	Selection *region.Selection  `json:"selection"`
}

type selectionResponse struct {
	Selection *region.Selection `json:"selection"`
	Cart      *medusa.Cart      `json:"cart,omitempty"`
}

func newRegionsResponse(selector *region.Selector) regionsResponse {
	resp := regionsResponse{
		Regions: selector.Regions(),
		Options: selector.Options(),
	}
	if resp.Regions == nil {
		resp.Regions = []medusa.Region{}
	}
	if resp.Options == nil {
		resp.Options = []region.Selection{}
	}
	if sel, ok := selector.Active(); ok {
		resp.Selection = &sel
	}
	return resp
}

// RegionsList returns the regions and country options, loading them on first use.
func RegionsList(logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, err := middleware.RequireSession(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if len(session.Regions.Options()) == 0 {
			if err := session.Regions.LoadRegions(r.Context()); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}
		responses.WriteSuccess(w, newRegionsResponse(session.Regions))
	}
}

func RegionsReload(logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, err := middleware.RequireSession(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if _, _, err := session.ReloadRegions(r.Context()); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newRegionsResponse(session.Regions))
	}
}

// SelectionFetch returns the active selection, applying the default country
// when nothing is selected yet.
func SelectionFetch(logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, err := middleware.RequireSession(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		sel, err := session.ActiveRegion(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, selectionResponse{Selection: &sel, Cart: session.Cart.Cart()})
	}
}

// SelectionUpdate switches the country. An active cart in another region is
// migrated, or recreated when the backend refuses the move.
func SelectionUpdate(logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, err := middleware.RequireSession(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload selectCountryRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		sel, cart, err := session.SelectCountry(r.Context(), payload.CountryCode)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if logg != nil {
			logg.Info(logg.WithRegionID(r.Context(), sel.RegionID), "region.selected")
		}
		responses.WriteSuccess(w, selectionResponse{Selection: &sel, Cart: cart})
	}
}
