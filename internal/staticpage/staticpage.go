// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-relay.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package staticpage serves the single configured subscriber-client
// HTML file at GET / (spec.md §6). Unlike the teacher's web package,
// which embeds an entire SPA tree via go:embed, the relay's landing
// page is one file read from disk at request time, so operators can
// swap it without a rebuild.
package staticpage

import (
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/ClusterCockpit/cc-relay/pkg/log"
)

const defaultFileName = "subscriber_client.html"

// Handler serves the file at DirPath/subscriber_client.html, 404ing
// if it is absent.
type Handler struct {
	DirPath string
}

// New returns a Handler rooted at dirPath.
func New(dirPath string) *Handler {
	return &Handler{DirPath: dirPath}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	path := filepath.Join(h.DirPath, defaultFileName)
	f, err := os.Open(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warnf("staticpage: failed to open %s: %s", path, err)
		}
		http.NotFound(w, r)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err := io.Copy(w, f); err != nil {
		log.Warnf("staticpage: failed to write response for %s: %s", path, err)
	}
}
