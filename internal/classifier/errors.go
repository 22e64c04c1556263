package classifier

import "errors"

var (
	ErrAddressRequired    = errors.New("classifier address is required")
	ErrMalformedResponse  = errors.New("malformed model service response")
	ErrUnexpectedStatus   = errors.New("unexpected model service status")
	ErrServiceNotServing  = errors.New("model service is not serving")
	ErrLandmarkExtraction = errors.New("landmark extraction failed")
)
