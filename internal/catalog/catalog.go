// Package catalog queries the Hugging Face model listing used by the
// control plane's "what can I download" view, generalizing the teacher's
// hardcoded ModelEntry phonebook into a live external collaborator
// (domain.Catalog) backed by the fetcher's in-memory fetch mode (§4.3, §6).
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/wingman-run/wingman/internal/domain"
	"github.com/wingman-run/wingman/internal/fetcher"
)

// QueryURL is the read-only Hugging Face listing endpoint this collaborator
// consumes verbatim (§6).
const QueryURL = "https://huggingface.co/api/models?author=TheBloke&search=-GGUF&sort=lastModified&direction=-1&full=full&limit=100"

// ttl bounds how long a successful listing is reused before the next
// List() re-queries Hugging Face.
const ttl = 60 * time.Second

// hfModel is the subset of the Hugging Face response this collaborator
// cares about; everything else is preserved in CatalogModel.Raw.
type hfModel struct {
	ID           string `json:"id"`
	Downloads    int64  `json:"downloads"`
	Likes        int64  `json:"likes"`
	LastModified string `json:"lastModified"`
	Siblings     []struct {
		RFilename string `json:"rfilename"`
	} `json:"siblings"`
}

// HFCatalog implements domain.Catalog against the live Hugging Face API.
type HFCatalog struct {
	queryURL string

	mu       sync.Mutex
	cached   []domain.CatalogModel
	cachedAt time.Time
}

// New returns a Catalog querying the default Hugging Face listing.
func New() *HFCatalog {
	return &HFCatalog{queryURL: QueryURL}
}

// List returns the cached listing, refreshing it from Hugging Face if
// stale. ctx is accepted for symmetry with the domain.Catalog interface;
// the underlying fetch does not currently honor cancellation mid-flight.
func (c *HFCatalog) List(_ context.Context) ([]domain.CatalogModel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cached != nil && time.Since(c.cachedAt) < ttl {
		return c.cached, nil
	}

	resp, err := fetcher.Fetch(fetcher.Request{URL: c.queryURL})
	if err != nil {
		return nil, err
	}

	var raw []map[string]interface{}
	if err := json.Unmarshal(resp.Body, &raw); err != nil {
		return nil, fmt.Errorf("%w: decode catalog response: %v", domain.ErrNetworkFailure, err)
	}

	models := make([]domain.CatalogModel, 0, len(raw))
	for _, entry := range raw {
		encoded, err := json.Marshal(entry)
		if err != nil {
			continue
		}
		var m hfModel
		if err := json.Unmarshal(encoded, &m); err != nil {
			continue
		}

		files := make([]string, 0, len(m.Siblings))
		for _, s := range m.Siblings {
			files = append(files, s.RFilename)
		}

		models = append(models, domain.CatalogModel{
			ModelRepo:    m.ID,
			Files:        files,
			Downloads:    m.Downloads,
			Likes:        m.Likes,
			LastModified: m.LastModified,
			Raw:          entry,
		})
	}

	c.cached = models
	c.cachedAt = time.Now()
	return models, nil
}

// Has reports whether modelRepo/filePath appears in the current listing.
func (c *HFCatalog) Has(ctx context.Context, modelRepo, filePath string) (bool, error) {
	models, err := c.List(ctx)
	if err != nil {
		return false, err
	}
	for _, m := range models {
		if m.ModelRepo != modelRepo {
			continue
		}
		for _, f := range m.Files {
			if f == filePath {
				return true, nil
			}
		}
	}
	return false, nil
}
