package domain

import "context"

// ─── External collaborator interfaces (§1, §6) ──────────────────────────
// These name the boundaries of components this repo treats as opaque:
// the model registry listing, the GGUF metadata/chat-template reader, and
// the embedded vector index. Infrastructure may implement them for real
// against HuggingFace; tests substitute fakes.

// CatalogModel is the enriched "AI model" view the UI consumes, passed
// through largely as the upstream registry returns it.
type CatalogModel struct {
	ModelRepo    string                 `json:"modelRepo"`
	Files        []string               `json:"files"`
	Downloads    int64                  `json:"downloads"`
	Likes        int64                  `json:"likes"`
	LastModified string                 `json:"lastModified"`
	Raw          map[string]interface{} `json:"-"`
}

// Catalog abstracts the remote model-registry listing (C3). Out of scope
// per §1; named here so the Control API has a stable seam to depend on.
type Catalog interface {
	List(ctx context.Context) ([]CatalogModel, error)
	Has(ctx context.Context, modelRepo, filePath string) (bool, error)
}

// MetadataExtractor abstracts the file-format reader that pulls model
// metadata and chat-template information out of a downloaded GGUF file.
// Out of scope per §1 — the download pipeline treats its result as a
// best-effort JSON blob and never depends on any field being present.
type MetadataExtractor interface {
	Extract(path string) (json string, err error)
}

// VectorIndexer abstracts the embedded vector index / PDF-chunking
// tooling. Out of scope per §1; no component in this repo calls it yet,
// kept as a named seam for a future ingest pipeline.
type VectorIndexer interface {
	Index(ctx context.Context, id string, chunks []string, vectors [][]float32) error
	Query(ctx context.Context, vector []float32, topK int) ([]string, error)
}
