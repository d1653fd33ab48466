package elastic

func credits() map[string]any {
	return map[string]any{
		"type": "nested",
		"properties": map[string]any{
			"uuid":      map[string]any{"type": "keyword"},
			"full_name": map[string]any{"type": "text", "analyzer": "standard"},
		},
	}
}

// MoviesMapping is the movies index definition the search API expects.
func MoviesMapping() map[string]any {
	return map[string]any{
		"settings": map[string]any{
			"number_of_shards":   1,
			"number_of_replicas": 0,
		},
		"mappings": map[string]any{
			"properties": map[string]any{
				"id":          map[string]any{"type": "keyword"},
				"title":       map[string]any{"type": "text", "analyzer": "standard"},
				"description": map[string]any{"type": "text", "analyzer": "standard"},
				"imdb_rating": map[string]any{"type": "float"},
				"genre": map[string]any{
					"type": "nested",
					"properties": map[string]any{
						"id":   map[string]any{"type": "keyword"},
						"name": map[string]any{"type": "text", "analyzer": "standard"},
					},
				},
				"actors":    credits(),
				"writers":   credits(),
				"directors": credits(),
			},
		},
	}
}

// GenresMapping is the genres index definition.
func GenresMapping() map[string]any {
	return map[string]any{
		"mappings": map[string]any{
			"properties": map[string]any{
				"id":   map[string]any{"type": "keyword"},
				"name": map[string]any{"type": "text", "analyzer": "standard"},
			},
		},
	}
}

// PersonsMapping is the persons index definition.
func PersonsMapping() map[string]any {
	return map[string]any{
		"mappings": map[string]any{
			"properties": map[string]any{
				"id": map[string]any{"type": "keyword"},
				"full_name": map[string]any{
					"type":   "text",
					"fields": map[string]any{"raw": map[string]any{"type": "keyword"}},
				},
				"role": map[string]any{"type": "keyword"},
			},
		},
	}
}
