package al

import (
	"encoding/json"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Box component indices within Detection.Boxes. Boxes follow the LiDAR
// convention [x, y, z, length, width, height, heading].
const (
	BoxLength = 3
	BoxWidth  = 4

	minBoxComponents = BoxWidth + 1
)

// Detection is the inference output for one unlabeled frame.
type Detection struct {
	FrameID   string       `json:"frame_id" cbor:"frame_id"`
	Names     []string     `json:"name" cbor:"name"`
	Boxes     [][]float64  `json:"boxes_lidar" cbor:"boxes_lidar"`
	Rotations []float64    `json:"rotation_y" cbor:"rotation_y"`
	Scores    []float64    `json:"score" cbor:"score"`
	Aleatoric ObjectValues `json:"al" cbor:"al"`
	Epistemic Epistemic    `json:"ep" cbor:"ep"`

	// EpistemicMC is the frame-level Monte-Carlo dropout estimate.
	EpistemicMC *float64 `json:"ep_mc,omitempty" cbor:"ep_mc,omitempty"`
}

// Len returns the number of detected objects.
func (d *Detection) Len() int {
	return len(d.Names)
}

// Validate checks that every per-object array has one entry per object.
func (d *Detection) Validate() error {
	n := len(d.Names)
	if d.FrameID == "" {
		return malformed(d.FrameID, "frame_id", "empty frame identifier")
	}
	if len(d.Scores) != n {
		return malformed(d.FrameID, "score", "got %d values for %d objects", len(d.Scores), n)
	}
	if len(d.Rotations) != n {
		return malformed(d.FrameID, "rotation_y", "got %d values for %d objects", len(d.Rotations), n)
	}
	if len(d.Boxes) != n {
		return malformed(d.FrameID, "boxes_lidar", "got %d boxes for %d objects", len(d.Boxes), n)
	}
	for i, b := range d.Boxes {
		if len(b) < minBoxComponents {
			return malformed(d.FrameID, "boxes_lidar", "box %d has %d components, need at least %d", i, len(b), minBoxComponents)
		}
	}
	if len(d.Aleatoric) != n {
		return malformed(d.FrameID, "al", "got %d values for %d objects", len(d.Aleatoric), n)
	}
	width := -1
	for i, v := range d.Aleatoric {
		if len(v) == 0 {
			return malformed(d.FrameID, "al", "object %d has no components", i)
		}
		if width >= 0 && len(v) != width {
			return malformed(d.FrameID, "al", "object %d has %d components, object 0 has %d", i, len(v), width)
		}
		width = len(v)
	}
	if d.Epistemic.Kind == EpistemicPerObject && len(d.Epistemic.PerObject) != n {
		return malformed(d.FrameID, "ep", "got %d values for %d objects", len(d.Epistemic.PerObject), n)
	}
	return nil
}

// ObjectValues holds one or more uncertainty components per object. It
// decodes from either a flat array (one scalar per object) or an array
// of arrays (one vector per object).
type ObjectValues [][]float64

// Scalars builds ObjectValues with a single component per object.
func Scalars(vs ...float64) ObjectValues {
	out := make(ObjectValues, len(vs))
	for i, v := range vs {
		out[i] = []float64{v}
	}
	return out
}

// UnmarshalJSON implements json.Unmarshaler.
func (o *ObjectValues) UnmarshalJSON(data []byte) error {
	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode object values: %w", err)
	}
	vals, err := objectValuesFromAny(raw)
	if err != nil {
		return err
	}
	*o = vals
	return nil
}

// UnmarshalCBOR implements cbor.Unmarshaler.
func (o *ObjectValues) UnmarshalCBOR(data []byte) error {
	var raw []interface{}
	if err := cbor.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode object values: %w", err)
	}
	vals, err := objectValuesFromAny(raw)
	if err != nil {
		return err
	}
	*o = vals
	return nil
}

func objectValuesFromAny(raw []interface{}) (ObjectValues, error) {
	out := make(ObjectValues, len(raw))
	for i, item := range raw {
		if list, ok := item.([]interface{}); ok {
			vec := make([]float64, len(list))
			for j, x := range list {
				f, err := toFloat64(x)
				if err != nil {
					return nil, fmt.Errorf("object %d component %d: %w", i, j, err)
				}
				vec[j] = f
			}
			out[i] = vec
			continue
		}
		f, err := toFloat64(item)
		if err != nil {
			return nil, fmt.Errorf("object %d: %w", i, err)
		}
		out[i] = []float64{f}
	}
	return out, nil
}

// EpistemicKind distinguishes the shapes an epistemic estimate arrives in.
type EpistemicKind int

const (
	EpistemicAbsent EpistemicKind = iota
	EpistemicFrame
	EpistemicPerObject
)

func (k EpistemicKind) String() string {
	switch k {
	case EpistemicFrame:
		return "frame"
	case EpistemicPerObject:
		return "per-object"
	default:
		return "absent"
	}
}

// Epistemic is a frame-scalar or per-object epistemic uncertainty. Dropout
// sampling yields one value per frame; distributional heads yield one per
// object. On the wire it is null, a number, or an array of numbers.
type Epistemic struct {
	Kind      EpistemicKind
	Frame     float64
	PerObject []float64
}

// FrameEpistemic returns a frame-scalar estimate.
func FrameEpistemic(v float64) Epistemic {
	return Epistemic{Kind: EpistemicFrame, Frame: v}
}

// ObjectEpistemic returns a per-object estimate.
func ObjectEpistemic(vs ...float64) Epistemic {
	return Epistemic{Kind: EpistemicPerObject, PerObject: vs}
}

// Select keeps the per-object entries at the given indices. Frame-scalar
// and absent estimates are returned unchanged.
func (e Epistemic) Select(idx []int) Epistemic {
	if e.Kind != EpistemicPerObject {
		return e
	}
	out := make([]float64, len(idx))
	for i, j := range idx {
		out[i] = e.PerObject[j]
	}
	return ObjectEpistemic(out...)
}

func (e Epistemic) wire() interface{} {
	switch e.Kind {
	case EpistemicFrame:
		return e.Frame
	case EpistemicPerObject:
		return e.PerObject
	default:
		return nil
	}
}

// MarshalJSON implements json.Marshaler.
func (e Epistemic) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.wire())
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *Epistemic) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode epistemic: %w", err)
	}
	return e.fromAny(raw)
}

// MarshalCBOR implements cbor.Marshaler.
func (e Epistemic) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal(e.wire())
}

// UnmarshalCBOR implements cbor.Unmarshaler.
func (e *Epistemic) UnmarshalCBOR(data []byte) error {
	var raw interface{}
	if err := cbor.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode epistemic: %w", err)
	}
	return e.fromAny(raw)
}

func (e *Epistemic) fromAny(raw interface{}) error {
	switch v := raw.(type) {
	case nil:
		*e = Epistemic{}
	case []interface{}:
		vals := make([]float64, len(v))
		for i, x := range v {
			f, err := toFloat64(x)
			if err != nil {
				return fmt.Errorf("epistemic object %d: %w", i, err)
			}
			vals[i] = f
		}
		*e = ObjectEpistemic(vals...)
	default:
		f, err := toFloat64(v)
		if err != nil {
			return fmt.Errorf("epistemic: %w", err)
		}
		*e = FrameEpistemic(f)
	}
	return nil
}

// toFloat64 converts a decoded JSON or CBOR number to float64.
func toFloat64(v interface{}) (float64, error) {
	switch val := v.(type) {
	case float64:
		return val, nil
	case float32:
		return float64(val), nil
	case int:
		return float64(val), nil
	case int64:
		return float64(val), nil
	case uint64:
		return float64(val), nil
	case json.Number:
		return val.Float64()
	default:
		return 0, fmt.Errorf("expected number, got %T", v)
	}
}
