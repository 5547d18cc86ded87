package main

import (
	"fmt"
	"strings"

	"github.com/muesli/reflow/indent"
	"github.com/muesli/reflow/truncate"

	"patchstore/container"
)

const crsWidth = 72

// describe 容器与地图的文字描述，mapName 为空时列出全部地图
func describe(c *container.Container, mapName string) (string, error) {
	maps := []string{mapName}
	if mapName == "" {
		var err error
		if maps, err = c.Maps(); err != nil {
			return "", err
		}
	}

	var sb strings.Builder
	sb.WriteString(c.String())
	sb.WriteString("\n")
	for _, m := range maps {
		text, err := describeMap(c, m)
		if err != nil {
			return "", err
		}
		sb.WriteString(indent.String(text, 2))
	}
	return sb.String(), nil
}

func describeMap(c *container.Container, m string) (string, error) {
	var sb strings.Builder
	size, err := c.MapSize(m)
	if err != nil {
		return "", err
	}
	fmt.Fprintf(&sb, "%s %s\n", m, size)

	crs, err := c.CRS(m, container.BaseLayer)
	if err != nil {
		return "", err
	}
	if crs != "" {
		fmt.Fprintf(&sb, "crs: %s\n", truncate.StringWithTail(strings.Join(strings.Fields(crs), " "), crsWidth, "..."))
	}
	t, err := c.Transform(m, container.BaseLayer)
	if err != nil {
		return "", err
	}
	if t != nil {
		fmt.Fprintf(&sb, "transform: %s\n", t)
	}

	valid, err := c.ValidPatches(m)
	if err != nil {
		return "", err
	}
	fmt.Fprintf(&sb, "valid patches: %d\n", len(valid))
	if corners, ok, err := c.Corners(m); err != nil {
		return "", err
	} else if ok {
		fmt.Fprintf(&sb, "corners: %s - %s\n", corners.Min(), corners.Max())
	}

	patches, err := c.Patches(m)
	if err != nil {
		return "", err
	}
	layers, err := c.Layers(m)
	if err != nil {
		return "", err
	}
	fmt.Fprintf(&sb, "layers: %d\n", len(layers))
	var lines strings.Builder
	for _, l := range layers {
		cells, _ := patches.Get(l)
		fmt.Fprintf(&lines, "%s: %d patches\n", l, len(cells))
	}
	sb.WriteString(indent.String(lines.String(), 2))
	return sb.String(), nil
}
