package container

import (
	"errors"

	"patchstore/geometry"
	"patchstore/raster"
	"patchstore/store"
)

var (
	ErrReadOnly          = store.ErrReadOnly
	ErrNotFound          = store.ErrNotFound
	ErrInvalidIndex      = geometry.ErrInvalidIndex
	ErrUnsupportedImage  = raster.ErrUnsupportedImage
	ErrDuplicateMap      = errors.New("map already exists")
	ErrDuplicateLayer    = errors.New("layer already exists")
	ErrDimensionMismatch = errors.New("layer dimensions differ from the base map")
	ErrBaseMissing       = errors.New("base map layer has not been written")
	ErrInvalidConfig     = errors.New("invalid container configuration")
	ErrClosed            = errors.New("container is closed")
	ErrBuilderDone       = errors.New("map builder already finished")
)
