// Package catalog holds the captcha challenge assets: pre-rendered challenge
// images and the answer strings accepted for each. The engine never generates
// challenges; it only picks from this static catalog.
package catalog

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"os"
)

// Asset is one pre-rendered challenge image and its accepted answers.
// Multiple answers support Cyrillic and Latin spellings of the same prompt.
// Answer comparison is exact, including case.
type Asset struct {
	ID      string   `json:"id"`      // stable identifier, e.g. the image filename
	Image   string   `json:"image"`   // path or key of the rendered image
	Answers []string `json:"answers"` // accepted answer strings, in preference order
}

// Accepted reports whether answer exactly matches one of the accepted
// answers.
func (a Asset) Accepted(answer string) bool {
	for _, want := range a.Answers {
		if answer == want {
			return true
		}
	}
	return false
}

// Catalog is an immutable set of challenge assets loaded at startup.
type Catalog struct {
	assets []Asset
}

// New builds a catalog from the given assets. Assets without an ID or
// without at least one accepted answer are rejected.
func New(assets []Asset) (*Catalog, error) {
	if len(assets) == 0 {
		return nil, fmt.Errorf("catalog: no assets")
	}
	for _, a := range assets {
		if a.ID == "" {
			return nil, fmt.Errorf("catalog: asset with empty id")
		}
		if len(a.Answers) == 0 {
			return nil, fmt.Errorf("catalog: asset %s has no accepted answers", a.ID)
		}
	}
	out := make([]Asset, len(assets))
	copy(out, assets)
	return &Catalog{assets: out}, nil
}

// LoadFile reads a JSON array of assets from path.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	var assets []Asset
	if err := json.Unmarshal(data, &assets); err != nil {
		return nil, fmt.Errorf("catalog: parse %s: %w", path, err)
	}
	return New(assets)
}

// Default returns the built-in catalog used when no asset file is configured.
func Default() *Catalog {
	c, err := New([]Asset{
		{ID: "bArnaul8.jpg", Image: "captcha_images/bArnaul8.jpg", Answers: []string{"бАрнаул8", "bArnaul8"}},
		{ID: "bArsik38.jpg", Image: "captcha_images/bArsik38.jpg", Answers: []string{"бАрсик38", "bArsik38"}},
		{ID: "Berkut+.jpg", Image: "captcha_images/Berkut+.jpg", Answers: []string{"Беркут+", "Berkut+"}},
		{ID: "GAGARIN.jpg", Image: "captcha_images/GAGARIN.jpg", Answers: []string{"ГАГАРИН", "GAGARIN"}},
		{ID: "GORA_BELUHA.jpg", Image: "captcha_images/GORA_BELUHA.jpg", Answers: []string{"ГОРА БЕЛУХА", "GORA BELUHA"}},
		{ID: "PETROPAVLOVSK.jpg", Image: "captcha_images/PETROPAVLOVSK.jpg", Answers: []string{"ПЕТРОПАВЛОВСК", "PETROPAVLOVSK"}},
		{ID: "RAKETA.jpg", Image: "captcha_images/RAKETA.jpg", Answers: []string{"РАКЕТА", "RAKETA"}},
		{ID: "TORPEDO.jpg", Image: "captcha_images/TORPEDO.jpg", Answers: []string{"ТОРПЕДО", "TORPEDO"}},
	})
	if err != nil {
		panic(err) // built-in data, cannot fail
	}
	return c
}

// Random returns a uniformly random asset from the catalog.
func (c *Catalog) Random() Asset {
	return c.assets[rand.IntN(len(c.assets))]
}

// Len returns the number of assets.
func (c *Catalog) Len() int {
	return len(c.assets)
}

// Get returns the asset with the given ID.
func (c *Catalog) Get(id string) (Asset, bool) {
	for _, a := range c.assets {
		if a.ID == id {
			return a, true
		}
	}
	return Asset{}, false
}
