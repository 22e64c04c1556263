package liveness

import "errors"

var (
	ErrLandmarkCount = errors.New("landmark set must contain exactly 68 points")
)
