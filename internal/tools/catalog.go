// ABOUTME: Embedded recipe catalog and its search helper.
// ABOUTME: Backs the suggest_recipes tool without any external data source.

package tools

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
)

//go:embed catalog.json
var catalogJSON []byte

// Recipe is one entry in the embedded catalog.
type Recipe struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	Cuisine      string   `json:"cuisine"`
	TotalMinutes int      `json:"total_minutes"`
	Servings     int      `json:"servings"`
	Tags         []string `json:"tags"`
	Ingredients  []string `json:"ingredients"`
	Summary      string   `json:"summary"`
}

// Catalog holds the embedded recipe collection.
type Catalog struct {
	Recipes []Recipe `json:"recipes"`
}

// LoadCatalog parses the embedded recipe catalog.
func LoadCatalog() (*Catalog, error) {
	var c Catalog
	if err := json.Unmarshal(catalogJSON, &c); err != nil {
		return nil, fmt.Errorf("parsing embedded recipe catalog: %w", err)
	}
	if len(c.Recipes) == 0 {
		return nil, fmt.Errorf("embedded recipe catalog is empty")
	}
	return &c, nil
}

// Search returns up to limit recipes matching the query as a
// case-insensitive substring over title, cuisine, tags, and ingredients.
// An empty query returns the first limit recipes.
func (c *Catalog) Search(query string, limit int) []Recipe {
	if limit <= 0 {
		limit = 5
	}

	query = strings.ToLower(strings.TrimSpace(query))

	var matches []Recipe
	for _, r := range c.Recipes {
		if len(matches) >= limit {
			break
		}
		if query == "" || recipeMatches(r, query) {
			matches = append(matches, r)
		}
	}
	return matches
}

func recipeMatches(r Recipe, query string) bool {
	if strings.Contains(strings.ToLower(r.Title), query) {
		return true
	}
	if strings.Contains(strings.ToLower(r.Cuisine), query) {
		return true
	}
	for _, tag := range r.Tags {
		if strings.Contains(strings.ToLower(tag), query) {
			return true
		}
	}
	for _, ing := range r.Ingredients {
		if strings.Contains(strings.ToLower(ing), query) {
			return true
		}
	}
	return false
}
