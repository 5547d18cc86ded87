//go:build gdal

package main

import (
	"patchstore/raster"
	"patchstore/raster/gdal"
)

func init() {
	codecs["gdal"] = func() raster.Codec {
		return gdal.New()
	}
}
