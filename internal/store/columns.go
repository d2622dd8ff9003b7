package store

import (
	"sort"

	"go.uber.org/zap"
)

// Column tables mapping proposal field names to catalog columns. A field
// outside its entity's table is dropped with a debug note, never an error.

var eventColumns = map[string]string{
	"name":             "name",
	"slug":             "slug",
	"description":      "description",
	"websiteUrl":       "website_url",
	"facebookUrl":      "facebook_url",
	"instagramUrl":     "instagram_url",
	"city":             "city",
	"countryCode":      "country_code",
	"subdivisionName":  "subdivision_name",
	"regionCode":       "region_code",
	"address":          "address",
	"isFeatured":       "is_featured",
	"currentEditionId": "current_edition_id",
	"dataSource":       "data_source",
}

var editionColumns = map[string]string{
	"year":            "year",
	"startDate":       "start_date",
	"endDate":         "end_date",
	"registrationUrl": "registration_url",
	"timezone":        "timezone",
	"customerType":    "customer_type",
	"organizerId":     "organizer_id",
}

var raceColumns = map[string]string{
	"name":           "name",
	"distanceMeters": "distance_meters",
	"raceType":       "race_type",
	"startTime":      "start_time",
}

var organizerColumns = map[string]string{
	"organizerName":    "name",
	"organizerEmail":   "email",
	"organizerPhone":   "phone",
	"organizerWebsite": "website",
	"name":             "name",
	"email":            "email",
	"phone":            "phone",
	"website":          "website",
}

// mapColumns resolves a field map to parallel column and value slices,
// ordered by column name so generated SQL is deterministic.
func mapColumns(entity string, fields map[string]any, table map[string]string) ([]string, []any) {
	byCol := make(map[string]any, len(fields))
	for field, val := range fields {
		col, ok := table[field]
		if !ok {
			zap.L().Debug("store: unmapped field dropped",
				zap.String("entity", entity), zap.String("field", field))
			continue
		}
		byCol[col] = val
	}

	cols := make([]string, 0, len(byCol))
	for col := range byCol {
		cols = append(cols, col)
	}
	sort.Strings(cols)

	vals := make([]any, len(cols))
	for i, col := range cols {
		vals[i] = byCol[col]
	}
	return cols, vals
}
