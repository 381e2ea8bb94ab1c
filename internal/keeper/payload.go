package keeper

import (
	"slices"

	"github.com/fxamacker/cbor/v2"
)

// Plan is the auxiliary payload returned by CheckDue: the batch a perform
// would service at the checked height. PerformUpkeep treats it as a hint only
// and always recomputes the plan itself.
type Plan struct {
	Height  uint64   `cbor:"1,keyasint" json:"height"`
	Cursor  uint64   `cbor:"2,keyasint" json:"cursor"`
	Next    uint64   `cbor:"3,keyasint" json:"next"`
	Indices []uint64 `cbor:"4,keyasint" json:"indices"`
}

// Same reports whether two plans describe the same batch.
func (p Plan) Same(other Plan) bool {
	return p.Cursor == other.Cursor && p.Next == other.Next && slices.Equal(p.Indices, other.Indices)
}

var (
	planEncMode cbor.EncMode
	planDecMode cbor.DecMode
)

func init() {
	var err error
	planEncMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("keeper: CBOR encoder initialization failed: " + err.Error())
	}
	planDecMode, err = cbor.DecOptions{
		DupMapKey: cbor.DupMapKeyEnforcedAPF,
	}.DecMode()
	if err != nil {
		panic("keeper: CBOR decoder initialization failed: " + err.Error())
	}
}

// EncodePlan encodes p with core deterministic CBOR.
func EncodePlan(p Plan) ([]byte, error) {
	return planEncMode.Marshal(p)
}

// DecodePlan decodes perform data produced by EncodePlan.
func DecodePlan(data []byte) (Plan, error) {
	var p Plan
	if err := planDecMode.Unmarshal(data, &p); err != nil {
		return Plan{}, &Error{Code: CodeMalformedPayload, Message: "perform data is not a valid plan", Err: err}
	}
	return p, nil
}
