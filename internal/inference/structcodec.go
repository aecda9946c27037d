package inference

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/alquery/internal/al"
)

// Wire field names of the Predict request and response structs.
const (
	fieldFrameIDs   = "frame_ids"
	fieldDetections = "detections"
)

// FrameRequest builds a Predict request for frames.
func FrameRequest(frames []string) (*structpb.Struct, error) {
	ids := make([]interface{}, len(frames))
	for i, f := range frames {
		ids[i] = f
	}
	return structpb.NewStruct(map[string]interface{}{fieldFrameIDs: ids})
}

// FramesFromRequest reads the frame identifiers of a Predict request.
func FramesFromRequest(s *structpb.Struct) ([]string, error) {
	v, ok := s.GetFields()[fieldFrameIDs]
	if !ok {
		return nil, fmt.Errorf("request has no %q field", fieldFrameIDs)
	}
	list := v.GetListValue()
	if list == nil {
		return nil, fmt.Errorf("request field %q is not a list", fieldFrameIDs)
	}
	frames := make([]string, len(list.GetValues()))
	for i, item := range list.GetValues() {
		sv, ok := item.GetKind().(*structpb.Value_StringValue)
		if !ok {
			return nil, fmt.Errorf("frame id %d is not a string", i)
		}
		frames[i] = sv.StringValue
	}
	return frames, nil
}

// DetectionsToStruct encodes records as a Predict response.
func DetectionsToStruct(dets []al.Detection) (*structpb.Struct, error) {
	data, err := json.Marshal(dets)
	if err != nil {
		return nil, fmt.Errorf("encode detections: %w", err)
	}
	list := &structpb.ListValue{}
	if err := protojson.Unmarshal(data, list); err != nil {
		return nil, fmt.Errorf("convert detections to struct: %w", err)
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldDetections: structpb.NewListValue(list),
	}}, nil
}

// DetectionsFromStruct decodes the records of a Predict response. Numbers
// travel as doubles, so aleatoric vectors and epistemic shapes survive the
// round trip unchanged.
func DetectionsFromStruct(s *structpb.Struct) ([]al.Detection, error) {
	v, ok := s.GetFields()[fieldDetections]
	if !ok {
		return nil, fmt.Errorf("response has no %q field", fieldDetections)
	}
	list := v.GetListValue()
	if list == nil {
		return nil, fmt.Errorf("response field %q is not a list", fieldDetections)
	}
	data, err := protojson.Marshal(list)
	if err != nil {
		return nil, fmt.Errorf("convert detections from struct: %w", err)
	}
	var dets []al.Detection
	if err := json.Unmarshal(data, &dets); err != nil {
		return nil, fmt.Errorf("decode detections: %w", err)
	}
	return dets, nil
}
