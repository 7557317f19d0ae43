// Package style resolves the symbology recorded with an extracted layer:
// either a style file named by the reference row or the renderer the
// source service publishes.
package style

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/Sudo-Ivan/arcgis-siteprep/pkg/arcgis"
)

// Style is the symbology stored with a layer. At most one field is set.
type Style struct {
	// Path is an existing style file.
	Path string
	// Renderer is the service's drawingInfo.renderer JSON.
	Renderer string
}

// IsZero reports whether no style was found.
func (s Style) IsZero() bool { return s.Path == "" && s.Renderer == "" }

// MetadataFetcher is the part of the ArcGIS client used to capture renderers.
type MetadataFetcher interface {
	FetchLayerMetadata(ctx context.Context, layerURL string) (*arcgis.LayerMetadata, error)
}

// Resolver looks up style files and falls back to service renderers.
type Resolver struct {
	// SearchDirs are tried, in order, for relative paths after the
	// working directory.
	SearchDirs []string
	Metadata   MetadataFetcher
	Logger     *slog.Logger
}

// Resolve returns the style for a layer. Every failure is logged at debug
// level and yields a zero Style.
func (r *Resolver) Resolve(ctx context.Context, stylePath, layerURL string) Style {
	if p := r.FindFile(stylePath); p != "" {
		return Style{Path: p}
	}
	if strings.TrimSpace(stylePath) != "" {
		r.logger().Debug("style file not found", "style", stylePath)
	}
	if r.Metadata == nil || layerURL == "" {
		return Style{}
	}
	meta, err := r.Metadata.FetchLayerMetadata(ctx, layerURL)
	if err != nil {
		r.logger().Debug("could not capture service renderer", "url", layerURL, "error", err)
		return Style{}
	}
	if meta.DrawingInfo == nil || len(meta.DrawingInfo.Renderer) == 0 || string(meta.DrawingInfo.Renderer) == "null" {
		return Style{}
	}
	return Style{Renderer: string(meta.DrawingInfo.Renderer)}
}

// FindFile normalises path and returns the first existing candidate, or "".
func (r *Resolver) FindFile(path string) string {
	path = Normalize(path)
	if path == "" {
		return ""
	}
	candidates := []string{path}
	if !filepath.IsAbs(path) {
		for _, dir := range r.SearchDirs {
			if dir != "" {
				candidates = append(candidates, filepath.Join(dir, path))
			}
		}
	}
	for _, c := range candidates {
		if info, err := os.Stat(c); err == nil && !info.IsDir() {
			return c
		}
	}
	return ""
}

// Normalize trims quotes and whitespace, expands a leading ~ and cleans
// the path. Windows separators are converted on other systems.
func Normalize(path string) string {
	path = strings.Trim(strings.TrimSpace(path), `"'`)
	if path == "" {
		return ""
	}
	if filepath.Separator == '/' {
		path = strings.ReplaceAll(path, `\`, "/")
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, path[1:])
		}
	}
	return filepath.Clean(path)
}

func (r *Resolver) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}
