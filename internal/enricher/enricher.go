// Package enricher drives ClearlyDefined enrichment of a whole SBOM
// document: it maps components to definition URIs, submits them to the
// request manager, and waits for the result.
package enricher

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/p2repo/sbomgen/internal/clearlydefined"
	"github.com/p2repo/sbomgen/internal/sbom"
)

// Options are the options for enriching an SBOM.
type Options struct {
	// Logger is the logger to use for logging.
	//
	// If nil, a no-op logger will be used.
	Logger *slog.Logger
	// BaseURL overrides the ClearlyDefined API base URL.
	//
	// If empty, the public API is used.
	BaseURL string
}

// Enricher enriches CycloneDX SBOMs through a shared request manager.
type Enricher struct {
	api     *clearlydefined.Api
	logger  *slog.Logger
	baseURL string
}

// New creates an Enricher on top of the given request manager.
func New(api *clearlydefined.Api, opts Options) *Enricher {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Enricher{
		api:     api,
		logger:  logger,
		baseURL: opts.BaseURL,
	}
}

// Enrich parses a CycloneDX SBOM, submits every component that maps to a
// ClearlyDefined definition, waits for all submissions to settle, and
// returns the enriched document. Components without usable coordinates are
// skipped with a log line; a failed enrichment leaves its component
// unannotated rather than failing the document.
func (e *Enricher) Enrich(ctx context.Context, data []byte) ([]byte, error) {
	format, err := sbom.DetectFormat(data)
	if err != nil {
		return nil, fmt.Errorf("detect format: %w", err)
	}
	if !strings.HasPrefix(format, "CycloneDX") {
		return nil, fmt.Errorf("unsupported SBOM format: %s", format)
	}

	bom, err := sbom.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse SBOM: %w", err)
	}

	var futures []*clearlydefined.Future
	for i := range bom.Components {
		component := &bom.Components[i]
		if component.Purl == "" {
			e.logger.DebugContext(ctx, "component has no purl, skipping",
				"name", component.Name)
			continue
		}

		uri, uriErr := sbom.DefinitionURIFromPurl(e.baseURL, component.Purl)
		if uriErr != nil {
			e.logger.DebugContext(ctx, "no ClearlyDefined coordinates for component",
				"purl", component.Purl, "error", uriErr)
			continue
		}

		future, submitErr := e.api.SubmitRequest(component, uri)
		if submitErr != nil {
			e.logger.ErrorContext(ctx, "failed to submit component",
				"purl", component.Purl, "error", submitErr)
			continue
		}
		futures = append(futures, future)
	}

	if err := e.api.WaitForCompletion(ctx); err != nil {
		return nil, fmt.Errorf("wait for enrichment: %w", err)
	}

	for _, future := range futures {
		if futureErr := future.Err(); futureErr != nil {
			// Missing annotations are an acceptable degradation.
			e.logger.ErrorContext(ctx, "enrichment failed for component",
				"error", futureErr)
		}
	}

	return bom.Marshal()
}
