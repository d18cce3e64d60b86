package vector

// Response is the body returned by the planned-outages endpoint
type Response struct {
	// FuturePlannedOutages is ordered by the API, soonest first.
	// A missing field decodes to nil and is treated like an empty list.
	FuturePlannedOutages []Outage `json:"futurePlannedOutages"`
}

// Outage is a single advertised planned outage
type Outage struct {
	AdvertisedStartDate string       `json:"advertisedStartDate"` // "2024-05-01"
	AdvertisedEndDate   string       `json:"advertisedEndDate"`   // "2024-05-01"
	AdvertisedTimes     []TimeWindow `json:"advertisedTimes"`
	Reason              string       `json:"reason"`
}

// TimeWindow is one advertised time range within an outage's date range
type TimeWindow struct {
	Start string `json:"start"` // "09:00:00"
	End   string `json:"end"`   // "13:00:00"
}

// FirstWindow returns the first advertised time window, if any
func (o *Outage) FirstWindow() (TimeWindow, bool) {
	if o == nil || len(o.AdvertisedTimes) == 0 {
		return TimeWindow{}, false
	}
	return o.AdvertisedTimes[0], true
}
