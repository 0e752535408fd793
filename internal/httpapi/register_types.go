package httpapi

import (
	"encoding/json"

	"github.com/tiled-data/tiled/internal/auth"
	"github.com/tiled-data/tiled/internal/catalogstore"
	"github.com/tiled-data/tiled/internal/structure"
)

// registerRequest is the POST /register/{path} body
// Node/DataSource/Asset model.
type registerRequest struct {
	Key         string              `json:"key"`
	Metadata    json.RawMessage     `json:"metadata"`
	Specs       []string            `json:"specs"`
	Structure   structure.Structure `json:"structure"`
	AccessBlob  *auth.AccessBlob    `json:"access_blob,omitempty"`
	DataSources []dataSourceInput   `json:"data_sources"`
}

type dataSourceInput struct {
	MimeType   string          `json:"mimetype"`
	Parameters json.RawMessage `json:"parameters,omitempty"`
	Management string          `json:"management"`
	Assets     []assetInput    `json:"assets"`
}

type assetInput struct {
	DataURI       string `json:"data_uri"`
	IsDirectory   bool   `json:"is_directory"`
	ParameterName string `json:"parameter_name"`
}

func (d dataSourceInput) toCatalogDataSource(nodeID int64, structureHash string) catalogstore.DataSource {
	return catalogstore.DataSource{
		NodeID:        nodeID,
		MimeType:      d.MimeType,
		StructureHash: structureHash,
		Management:    d.Management,
		Parameters:    d.Parameters,
	}
}

func (a assetInput) toCatalogAsset(dataSourceID int64) catalogstore.Asset {
	return catalogstore.Asset{
		DataSourceID:  dataSourceID,
		DataURI:       a.DataURI,
		IsDirectory:   a.IsDirectory,
		ParameterName: a.ParameterName,
	}
}

// nodeFromRegister builds the catalogstore.Node row for a new node at
// path, carrying the already-validated/normalized metadata, specs, and
// access blob.
func nodeFromRegister(path []string, req registerRequest, metadata, specsJSON, accessBlobJSON json.RawMessage, structureHash string) catalogstore.Node {
	ancestors := path

	n := catalogstore.Node{
		Key:             req.Key,
		Metadata:        metadata,
		Specs:           specsJSON,
		AccessBlob:      accessBlobJSON,
		StructureFamily: req.Structure.Family,
	}
	if structureHash != "" {
		n.StructureHash.Valid = true
		n.StructureHash.String = structureHash
	}
	n.Ancestors = joinPath(ancestors)
	return n
}
