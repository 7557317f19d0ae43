package arcgis

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// FetchLayerMetadata fetches the JSON description of a layer.
func (c *Client) FetchLayerMetadata(ctx context.Context, layerURL string) (*LayerMetadata, error) {
	var meta LayerMetadata
	if err := c.Do(ctx, http.MethodGet, strings.TrimRight(layerURL, "/"), c.tokenParams(), &meta); err != nil {
		return nil, fmt.Errorf("failed to fetch layer metadata from %s: %w", layerURL, err)
	}
	if meta.ObjectIDField == "" {
		for _, f := range meta.Fields {
			if f.Type == "esriFieldTypeOID" {
				meta.ObjectIDField = f.Name
				break
			}
		}
	}
	return &meta, nil
}

// FetchServiceLayers fetches the layers from an ArcGIS Feature Server or Map Server.
// Group layers are resolved into ParentPath; only feature layers and tables
// are returned.
func (c *Client) FetchServiceLayers(ctx context.Context, serviceURL string) ([]AvailableLayerInfo, error) {
	serviceType := ServiceType(serviceURL)
	if serviceType == "" {
		return nil, fmt.Errorf("unsupported service type for fetching layers: %s", serviceURL)
	}
	serviceURL = strings.TrimRight(serviceURL, "/")

	var metadata ServiceMetadata
	if err := c.FetchAndDecode(ctx, serviceURL, &metadata); err != nil {
		return nil, fmt.Errorf("failed to fetch %s metadata from %s: %w", serviceType, serviceURL, err)
	}

	layerMap := make(map[int]LayerRef, len(metadata.Layers))
	for _, layer := range metadata.Layers {
		layerMap[layer.ID] = layer
	}

	var buildPath func(id int, depth int) []string
	buildPath = func(id int, depth int) []string {
		layer, ok := layerMap[id]
		if !ok || depth > len(layerMap) {
			return nil
		}
		if layer.ParentLayerID == nil || *layer.ParentLayerID < 0 {
			return []string{layer.Name}
		}
		return append(buildPath(*layer.ParentLayerID, depth+1), layer.Name)
	}

	var available []AvailableLayerInfo
	for _, layer := range metadata.Layers {
		// FeatureServer layers omit type on older servers.
		if layer.Type != "" && layer.Type != FeatureLayerType {
			continue
		}
		path := buildPath(layer.ID, 0)
		if len(path) > 0 {
			path = path[:len(path)-1]
		}
		available = append(available, AvailableLayerInfo{
			ID:           layer.ID,
			Name:         layer.Name,
			Type:         layer.Type,
			GeometryType: layer.GeometryType,
			ServiceURL:   serviceURL,
			ParentPath:   path,
		})
	}
	for _, table := range metadata.Tables {
		available = append(available, AvailableLayerInfo{
			ID:         table.ID,
			Name:       table.Name,
			Type:       table.Type,
			ServiceURL: serviceURL,
			IsTable:    true,
		})
	}

	sort.SliceStable(available, func(i, j int) bool {
		if available[i].IsTable != available[j].IsTable {
			return !available[i].IsTable
		}
		return available[i].ID < available[j].ID
	})
	return available, nil
}
