package classifier

import (
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"

	"perceptor/pkg/types"
)

// parseResult maps a Classify response onto the result variant:
//
//	{"status": "ok", "detections": [{"label": "alice", "score": 0.21, "bbox": [x1, y1, x2, y2]}]}
//	{"status": "no_face"}
//	{"status": "error", "message": "..."}
func parseResult(resp *structpb.Struct) (types.Result, error) {
	fields := resp.GetFields()

	switch status := fields["status"].GetStringValue(); status {
	case statusNoFace:
		return types.NoFace{}, nil
	case statusError:
		msg := fields["message"].GetStringValue()
		if msg == "" {
			msg = "model service error"
		}
		return types.Failed{Message: msg}, nil
	case statusOK, "":
		detections, err := parseDetections(fields["detections"].GetListValue())
		if err != nil {
			return nil, err
		}
		return types.Detected{Detections: detections}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnexpectedStatus, status)
	}
}

func parseDetections(list *structpb.ListValue) ([]types.Detection, error) {
	values := list.GetValues()
	detections := make([]types.Detection, 0, len(values))

	for i, v := range values {
		obj := v.GetStructValue()
		if obj == nil {
			return nil, fmt.Errorf("%w: detection %d is not an object", ErrMalformedResponse, i)
		}
		f := obj.GetFields()

		d := types.Detection{Label: f["label"].GetStringValue()}
		if s, ok := f["score"].GetKind().(*structpb.Value_NumberValue); ok {
			score := s.NumberValue
			d.Score = &score
		}
		if raw := f["bbox"].GetListValue(); raw != nil {
			coords := raw.GetValues()
			if len(coords) != 4 {
				return nil, fmt.Errorf("%w: detection %d bbox has %d coordinates", ErrMalformedResponse, i, len(coords))
			}
			var box types.BBox
			for j, c := range coords {
				box[j] = c.GetNumberValue()
			}
			d.BBox = &box
		}
		detections = append(detections, d)
	}
	return detections, nil
}

// parsePoints maps an ExtractLandmarks response: {"status": "ok", "points": [{"x": 1, "y": 2}, ...]}
func parsePoints(resp *structpb.Struct) ([]types.Point, error) {
	fields := resp.GetFields()

	switch status := fields["status"].GetStringValue(); status {
	case statusNoFace:
		return nil, nil
	case statusError:
		return nil, fmt.Errorf("%w: %s", ErrLandmarkExtraction, fields["message"].GetStringValue())
	case statusOK, "":
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnexpectedStatus, status)
	}

	values := fields["points"].GetListValue().GetValues()
	if len(values) == 0 {
		return nil, nil
	}
	points := make([]types.Point, 0, len(values))
	for i, v := range values {
		p := v.GetStructValue()
		if p == nil {
			return nil, fmt.Errorf("%w: point %d is not an object", ErrMalformedResponse, i)
		}
		f := p.GetFields()
		points = append(points, types.Point{X: f["x"].GetNumberValue(), Y: f["y"].GetNumberValue()})
	}
	return points, nil
}
