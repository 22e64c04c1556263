package interfaces

import (
	"context"

	"perceptor/pkg/types"
)

// Classifier maps one decoded frame to a classification result
// ARCHITECTURAL DISCOVERY: The model is an external collaborator; the engine
// only depends on this contract and assumes it is safe for concurrent use
type Classifier interface {
	// Classify runs the kind-specific model on one frame.
	// A non-nil error means the capability itself failed (transport,
	// timeout); model-side processing errors come back as types.Failed.
	Classify(ctx context.Context, kind types.StreamKind, frame []byte) (types.Result, error)

	// Ready reports whether the capability can currently accept frames
	Ready() bool
}

// LandmarkExtractor returns the ordered facial landmark set of a frame
type LandmarkExtractor interface {
	// ExtractLandmarks returns nil points and a nil error when the frame
	// contains no face.
	ExtractLandmarks(ctx context.Context, frame []byte) ([]types.Point, error)

	// Ready reports whether the capability can currently accept frames
	Ready() bool
}

// Outbox is the outbound message queue of one stream session
// FUNCTIONAL DISCOVERY: Emit must be safe for concurrent use because the
// registry and dispatcher both write acknowledgements to the same session
type Outbox interface {
	Emit(event *types.Event) error
}
