package main

import (
	"fmt"
	"sort"

	"patchstore/raster"
	"patchstore/raster/geotiff"
)

// codecs 可用的栅格编解码，gdal 需以 -tags gdal 编译
var codecs = map[string]func() raster.Codec{
	"geotiff": func() raster.Codec {
		return geotiff.New(geotiff.WithLogger(log))
	},
}

func newCodec(name string) (raster.Codec, error) {
	fn, ok := codecs[name]
	if !ok {
		names := make([]string, 0, len(codecs))
		for n := range codecs {
			names = append(names, n)
		}
		sort.Strings(names)
		return nil, fmt.Errorf("unknown codec %q, available: %v", name, names)
	}
	return fn(), nil
}
