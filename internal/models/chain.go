package models

import (
	"bytes"
	"math"
	"strconv"
)

// ContractType selects the side of an option chain request.
type ContractType string

const (
	// ContractTypeCall requests the call side of the chain
	ContractTypeCall ContractType = "CALL"
	// ContractTypePut requests the put side of the chain
	ContractTypePut ContractType = "PUT"
)

// OpenInterest is a tolerant decoder for the openInterest field of a contract record.
// Anything that is not a JSON number (null, strings, objects) decodes as "no data".
type OpenInterest struct {
	Value int64
	Valid bool
}

// UnmarshalJSON implements json.Unmarshaler.
func (o *OpenInterest) UnmarshalJSON(b []byte) error {
	*o = OpenInterest{}
	b = bytes.TrimSpace(b)
	if len(b) == 0 || b[0] == '"' || b[0] == '{' || b[0] == '[' || bytes.Equal(b, []byte("null")) {
		return nil
	}
	f, err := strconv.ParseFloat(string(b), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	*o = OpenInterest{Value: int64(math.Round(f)), Valid: true}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (o OpenInterest) MarshalJSON() ([]byte, error) {
	if !o.Valid {
		return []byte("null"), nil
	}
	return strconv.AppendInt(nil, o.Value, 10), nil
}

// OI returns the open interest, or 0 when the record carried none.
func (o OpenInterest) OI() int64 {
	if !o.Valid || o.Value < 0 {
		return 0
	}
	return o.Value
}

// ContractRecord is one option contract as returned by the chain endpoint.
// Only OpenInterest feeds the aggregation; the rest is kept for logging.
type ContractRecord struct {
	PutCall      string       `json:"putCall"`
	Symbol       string       `json:"symbol"`
	StrikePrice  float64      `json:"strikePrice"`
	OpenInterest OpenInterest `json:"openInterest"`
	DaysToExp    int          `json:"daysToExpiration"`
}

// StrikeMap maps a strike-key string ("560", "560.0", "560.00") to its contract records.
type StrikeMap map[string][]ContractRecord

// FirstOI returns the open interest of the first record under key.
func (s StrikeMap) FirstOI(key string) int64 {
	recs := s[key]
	if len(recs) == 0 {
		return 0
	}
	return recs[0].OpenInterest.OI()
}

// ExpDateMap maps an expiration-prefixed key ("2025-06-20:3") to a StrikeMap.
type ExpDateMap map[string]StrikeMap

// Merge unions other into m. A collision on the same expiration key is merged
// strike by strike; when both sides carry the same strike key, the record list
// with the larger first-record OI is kept so the result does not depend on merge order.
func (m ExpDateMap) Merge(other ExpDateMap) {
	for expKey, strikes := range other {
		existing, ok := m[expKey]
		if !ok || existing == nil {
			cp := make(StrikeMap, len(strikes))
			for k, v := range strikes {
				cp[k] = v
			}
			m[expKey] = cp
			continue
		}
		for strikeKey, recs := range strikes {
			cur, ok := existing[strikeKey]
			if !ok || firstOI(recs) > firstOI(cur) {
				existing[strikeKey] = recs
			}
		}
	}
}

func firstOI(recs []ContractRecord) int64 {
	if len(recs) == 0 {
		return 0
	}
	return recs[0].OpenInterest.OI()
}

// ChainSlice is the raw payload of one chain request.
type ChainSlice struct {
	Symbol         string     `json:"symbol"`
	Status         string     `json:"status"`
	CallExpDateMap ExpDateMap `json:"callExpDateMap"`
	PutExpDateMap  ExpDateMap `json:"putExpDateMap"`
}

// FetchFailure records one (expiration, side) request that degraded to an empty slice.
type FetchFailure struct {
	Expiration string
	Side       ContractType
	Err        error
}

// ChainData is the cumulative chain for one symbol across all target expirations.
type ChainData struct {
	Symbol      string
	Mark        MarkPrice
	Window      StrikeWindow
	Expirations []string
	Calls       ExpDateMap
	Puts        ExpDateMap
	Failures    []FetchFailure
}

// NewChainData returns an empty ChainData for symbol anchored on mark.
func NewChainData(symbol string, mark MarkPrice, expirations []string) *ChainData {
	return &ChainData{
		Symbol:      symbol,
		Mark:        mark,
		Window:      NewStrikeWindow(mark.Rounded),
		Expirations: expirations,
		Calls:       ExpDateMap{},
		Puts:        ExpDateMap{},
	}
}

// AddSide merges the requested side of a fetched slice into the cumulative
// map and returns how many expiration keys it carried. Missing maps are empty.
func (c *ChainData) AddSide(t ContractType, slice *ChainSlice) int {
	if slice == nil {
		return 0
	}
	src := slice.CallExpDateMap
	if t == ContractTypePut {
		src = slice.PutExpDateMap
	}
	if src == nil {
		return 0
	}
	c.Side(t).Merge(src)
	return len(src)
}

// Side returns the expiration map for the given contract type.
func (c *ChainData) Side(t ContractType) ExpDateMap {
	if t == ContractTypePut {
		return c.Puts
	}
	return c.Calls
}
