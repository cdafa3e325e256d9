package triage

import (
	"encoding/json"
)

type PropertyStatus string

const (
	StatusLiked    PropertyStatus = "liked"
	StatusDisliked PropertyStatus = "disliked"
	StatusDeleted  PropertyStatus = "deleted"
)

// the default status shadow stamped on catalog entries at extraction
const defaultCatalogStatus = StatusLiked

type TextValue struct {
	Text string `json:"text"`
}

type House struct {
	Number int `json:"number,omitempty"`
	Floor  int `json:"floor"`
}

type Coords struct {
	Lon float64 `json:"lon"`
	Lat float64 `json:"lat"`
}

type Address struct {
	City         TextValue  `json:"city"`
	Area         TextValue  `json:"area"`
	Neighborhood TextValue  `json:"neighborhood"`
	Street       *TextValue `json:"street,omitempty"`
	House        House      `json:"house"`
	Coords       Coords     `json:"coords"`
}

type PropertyCondition struct {
	Id int `json:"id"`
}

type AdditionalDetails struct {
	Property          TextValue          `json:"property"`
	RoomsCount        float64            `json:"roomsCount"`
	SquareMeter       int                `json:"squareMeter"`
	PropertyCondition *PropertyCondition `json:"propertyCondition,omitempty"`
}

type MetaData struct {
	CoverImage       string   `json:"coverImage"`
	Images           []string `json:"images"`
	Video            string   `json:"video,omitempty"`
	SquareMeterBuild int      `json:"squareMeterBuild,omitempty"`
}

type Tag struct {
	Name     string `json:"name"`
	Id       int    `json:"id"`
	Priority int    `json:"priority"`
}

type Customer struct {
	AgencyName string `json:"agencyName"`
	AgencyLogo string `json:"agencyLogo"`
}

// Property is a catalog entry for one listing. It is immutable for the
// process lifetime except for the Status/Comment display shadow, which the
// store denormalizes from the per-user state.
type Property struct {
	Token             string            `json:"token"`
	Price             int               `json:"price"`
	Address           Address           `json:"address"`
	AdditionalDetails AdditionalDetails `json:"additionalDetails"`
	MetaData          MetaData          `json:"metaData"`
	SubcategoryId     int               `json:"subcategoryId,omitempty"`
	CategoryId        int               `json:"categoryId,omitempty"`
	AdType            string            `json:"adType,omitempty"`
	Tags              []Tag             `json:"tags,omitempty"`
	OrderId           int               `json:"orderId,omitempty"`
	Priority          int               `json:"priority,omitempty"`
	PriceBeforeTag    int               `json:"priceBeforeTag,omitempty"`
	Status            PropertyStatus    `json:"status,omitempty"`
	Comment           string            `json:"comment,omitempty"`
	Customer          *Customer         `json:"customer,omitempty"`
}

func (self *Property) Valid() bool {
	return self.Token != "" &&
		0 < self.Price &&
		self.Address.City.Text != "" &&
		self.Address.Neighborhood.Text != "" &&
		self.MetaData.Images != nil
}

type CatalogResult struct {
	Properties []*Property
	// count of records dropped as malformed
	Dropped int
}

// ExtractProperties parses a catalog payload into valid entries. The payload
// may be a bare array of records, a `{"properties": [...]}` wrapper, or a
// dehydrated query cache where records sit at
// `dehydratedState.queries[].state.data` or `...state.data.private`.
// Malformed records are dropped, never fatal to the batch.
func ExtractProperties(data []byte) (*CatalogResult, error) {
	if len(data) == 0 {
		return nil, &ValidationError{Message: "empty catalog payload"}
	}

	var records []json.RawMessage
	if err := json.Unmarshal(data, &records); err == nil {
		return filterRecords(records), nil
	}

	var wrapper struct {
		Properties      []json.RawMessage `json:"properties"`
		DehydratedState *struct {
			Queries []struct {
				State *struct {
					Data json.RawMessage `json:"data"`
				} `json:"state"`
			} `json:"queries"`
		} `json:"dehydratedState"`
	}
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return nil, &ValidationError{Message: "invalid catalog payload"}
	}

	if wrapper.DehydratedState != nil {
		for _, query := range wrapper.DehydratedState.Queries {
			if query.State == nil || query.State.Data == nil {
				continue
			}
			var private struct {
				Private []json.RawMessage `json:"private"`
			}
			if err := json.Unmarshal(query.State.Data, &private); err == nil && private.Private != nil {
				if result := filterRecords(private.Private); 0 < len(result.Properties) {
					return result, nil
				}
			}
			var queryRecords []json.RawMessage
			if err := json.Unmarshal(query.State.Data, &queryRecords); err == nil {
				if result := filterRecords(queryRecords); 0 < len(result.Properties) {
					return result, nil
				}
			}
		}
	}

	if wrapper.Properties != nil {
		return filterRecords(wrapper.Properties), nil
	}

	return &CatalogResult{}, nil
}

func filterRecords(records []json.RawMessage) *CatalogResult {
	result := &CatalogResult{}
	for _, record := range records {
		property := &Property{}
		if err := json.Unmarshal(record, property); err != nil {
			result.Dropped += 1
			continue
		}
		if !property.Valid() {
			result.Dropped += 1
			continue
		}
		if property.Status == "" {
			property.Status = defaultCatalogStatus
		}
		result.Properties = append(result.Properties, property)
	}
	return result
}
