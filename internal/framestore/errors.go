package framestore

import "errors"

var (
	ErrEmptyDir     = errors.New("frame directory cannot be empty")
	ErrEmptyFrame   = errors.New("frame image is empty")
	ErrUnsafeRemove = errors.New("refusing to remove directory outside the frame root")
)
