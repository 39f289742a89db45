package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenInterest_TolerantDecode(t *testing.T) {
	tests := []struct {
		in    string
		oi    int64
		valid bool
	}{
		{`120`, 120, true},
		{`120.6`, 121, true},
		{`0`, 0, true},
		{`-4`, 0, true},
		{`null`, 0, false},
		{`"120"`, 0, false},
		{`{"v":1}`, 0, false},
		{`[1]`, 0, false},
	}
	for _, tt := range tests {
		var rec ContractRecord
		require.NoError(t, json.Unmarshal([]byte(`{"openInterest":`+tt.in+`}`), &rec), tt.in)
		assert.Equal(t, tt.valid, rec.OpenInterest.Valid, tt.in)
		assert.Equal(t, tt.oi, rec.OpenInterest.OI(), tt.in)
	}
}

func TestChainSlice_Decode(t *testing.T) {
	body := `{
		"symbol": "SPY",
		"status": "SUCCESS",
		"callExpDateMap": {
			"2025-06-20:4": {
				"560.0": [{"putCall": "CALL", "strikePrice": 560, "openInterest": 100, "daysToExpiration": 4}]
			}
		}
	}`
	var slice ChainSlice
	require.NoError(t, json.Unmarshal([]byte(body), &slice))
	assert.Equal(t, int64(100), slice.CallExpDateMap["2025-06-20:4"].FirstOI("560.0"))
	assert.Zero(t, slice.CallExpDateMap["2025-06-20:4"].FirstOI("561.0"))
	assert.Nil(t, slice.PutExpDateMap)
}

func recs(oi int64) []ContractRecord {
	return []ContractRecord{{OpenInterest: OpenInterest{Value: oi, Valid: true}}}
}

func TestExpDateMap_Merge(t *testing.T) {
	a := ExpDateMap{"2025-06-20:4": {"560.0": recs(10), "561.0": recs(5)}}
	b := ExpDateMap{
		"2025-06-20:4":  {"560.0": recs(12), "562.0": recs(1)},
		"2025-06-27:11": {"560.0": recs(7)},
	}

	ab := ExpDateMap{}
	ab.Merge(a)
	ab.Merge(b)
	ba := ExpDateMap{}
	ba.Merge(b)
	ba.Merge(a)

	assert.Equal(t, ab, ba, "merge is order independent")
	assert.Equal(t, int64(12), ab["2025-06-20:4"].FirstOI("560.0"))
	assert.Equal(t, int64(5), ab["2025-06-20:4"].FirstOI("561.0"))
	assert.Equal(t, int64(1), ab["2025-06-20:4"].FirstOI("562.0"))
	assert.Equal(t, int64(7), ab["2025-06-27:11"].FirstOI("560.0"))

	// Inputs are not mutated.
	assert.Len(t, a["2025-06-20:4"], 2)
}

func TestChainData_AddSide(t *testing.T) {
	data := NewChainData("SPY", NewMarkPrice(562), []string{"2025-06-20"})
	slice := &ChainSlice{
		CallExpDateMap: ExpDateMap{"2025-06-20:4": {"560.0": recs(1)}},
		PutExpDateMap:  ExpDateMap{"2025-06-20:4": {"560.0": recs(2)}, "2025-06-27:11": {}},
	}

	assert.Equal(t, 1, data.AddSide(ContractTypeCall, slice))
	assert.Empty(t, data.Puts, "only the requested side is merged")
	assert.Equal(t, 2, data.AddSide(ContractTypePut, slice))
	assert.Equal(t, int64(2), data.Side(ContractTypePut)["2025-06-20:4"].FirstOI("560.0"))

	assert.Zero(t, data.AddSide(ContractTypeCall, nil))
	assert.Zero(t, data.AddSide(ContractTypeCall, &ChainSlice{}))
	assert.Equal(t, StrikeWindow{Low: 552, High: 572}, data.Window)
}
