package main

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidServeMode = errors.New("invalid serve mode")

// ServeMode selects which surfaces one process exposes. A kiosk box runs the
// monolith; a split deployment runs the public site and the inquiry store apart.
type ServeMode string

const (
	ServeModeMonolith ServeMode = "monolith"
	ServeModeWeb      ServeMode = "web"
	ServeModeAPI      ServeMode = "api"
)

type surfaces struct {
	web bool
	api bool
}

var serveModeSurfaces = map[ServeMode]surfaces{
	ServeModeMonolith: {web: true, api: true},
	ServeModeWeb:      {web: true},
	ServeModeAPI:      {api: true},
}

var serveModeOrder = []ServeMode{ServeModeMonolith, ServeModeWeb, ServeModeAPI}

// ParseServeMode normalizes rawInput; empty selects the monolith.
func ParseServeMode(rawInput string) (ServeMode, error) {
	normalized := ServeMode(strings.ToLower(strings.TrimSpace(rawInput)))
	if normalized == "" {
		return ServeModeMonolith, nil
	}
	if _, known := serveModeSurfaces[normalized]; !known {
		return "", fmt.Errorf("%w: %q (expected %s)", ErrInvalidServeMode, rawInput, serveModeNames())
	}
	return normalized, nil
}

func serveModeNames() string {
	names := make([]string, 0, len(serveModeOrder))
	for _, mode := range serveModeOrder {
		names = append(names, string(mode))
	}
	return strings.Join(names, ", ")
}

// servesWeb reports whether the bilingual site, login and admin panel are mounted.
func (mode ServeMode) servesWeb() bool {
	return serveModeSurfaces[mode].web
}

// servesAPI reports whether the inquiry store JSON API is mounted.
func (mode ServeMode) servesAPI() bool {
	return serveModeSurfaces[mode].api
}
