// Package listing serves the read-only property catalogue shown by the site.
package listing

import (
	"github.com/emirpasic/gods/maps/linkedhashmap"
)

type Property struct {
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	Location  string   `json:"location"`
	Price     int64    `json:"price"`
	PriceETH  string   `json:"priceEth"`
	Bedrooms  int      `json:"bedrooms"`
	Bathrooms int      `json:"bathrooms"`
	Area      int      `json:"area"`
	Kind      string   `json:"type"`
	Images    []string `json:"images"`
	Featured  bool     `json:"featured"`
}

var properties = []Property{
	{
		ID: "1", Title: "Modern Waterfront Villa", Location: "Miami, FL",
		Price: 2450000, PriceETH: "1225", Bedrooms: 5, Bathrooms: 4, Area: 4200, Kind: "villa",
		Images: []string{"/images/properties/1-front.jpg", "/images/properties/1-pool.jpg"}, Featured: true,
	},
	{
		ID: "2", Title: "Downtown Loft", Location: "New York, NY",
		Price: 1150000, PriceETH: "575", Bedrooms: 2, Bathrooms: 2, Area: 1350, Kind: "apartment",
		Images: []string{"/images/properties/2-living.jpg"},
	},
	{
		ID: "3", Title: "Hillside Family Home", Location: "Austin, TX",
		Price: 780000, PriceETH: "390", Bedrooms: 4, Bathrooms: 3, Area: 2900, Kind: "house",
		Images: []string{"/images/properties/3-front.jpg", "/images/properties/3-yard.jpg"}, Featured: true,
	},
	{
		ID: "4", Title: "Beachside Penthouse", Location: "San Diego, CA",
		Price: 3200000, PriceETH: "1600", Bedrooms: 3, Bathrooms: 3, Area: 2600, Kind: "penthouse",
		Images: []string{"/images/properties/4-terrace.jpg"}, Featured: true,
	},
	{
		ID: "5", Title: "Mountain Cabin Retreat", Location: "Aspen, CO",
		Price: 1890000, PriceETH: "945", Bedrooms: 3, Bathrooms: 2, Area: 1800, Kind: "cabin",
		Images: []string{"/images/properties/5-exterior.jpg"},
	},
	{
		ID: "6", Title: "Historic Brownstone", Location: "Boston, MA",
		Price: 2100000, PriceETH: "1050", Bedrooms: 4, Bathrooms: 3, Area: 3100, Kind: "townhouse",
		Images: []string{"/images/properties/6-street.jpg", "/images/properties/6-kitchen.jpg"},
	},
}

var catalogue = linkedhashmap.New()

func init() {
	for _, p := range properties {
		catalogue.Put(p.ID, p)
	}
}

// All returns every property in catalogue order.
func All() []Property {
	out := make([]Property, 0, catalogue.Size())
	for _, v := range catalogue.Values() {
		out = append(out, v.(Property))
	}
	return out
}

func Get(id string) (Property, bool) {
	v, ok := catalogue.Get(id)
	if !ok {
		return Property{}, false
	}
	return v.(Property), true
}

func Featured() []Property {
	var out []Property
	for _, p := range All() {
		if p.Featured {
			out = append(out, p)
		}
	}
	return out
}

// ByIDs resolves ids in the given order, skipping unknown ones.
func ByIDs(ids []string) []Property {
	out := make([]Property, 0, len(ids))
	for _, id := range ids {
		if p, ok := Get(id); ok {
			out = append(out, p)
		}
	}
	return out
}
