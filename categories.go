package maskgt

// Category index mapping.

import "sort"

// Category is a single entry of a dataset's category list. IDs are assigned by
// the dataset and are typically sparse.
type Category struct {
	ID   int    `json:"id"`
	Name string `json:"name,omitempty"`
}

// BuildClassIndex maps sparse dataset category IDs to dense class indices in
// [0, len(categories)-1]. Categories are sorted by ID ascending and indexed by
// sort position, so the result is reproducible for a fixed category list.
//
// The mapping is only stable as long as the category list's membership is
// unchanged. It must be rebuilt per dataset load and never reused across
// datasets.
func BuildClassIndex(categories []Category) map[int]int {
	sorted := make([]Category, len(categories))
	copy(sorted, categories)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	classIndex := make(map[int]int, len(sorted))
	for i, c := range sorted {
		classIndex[c.ID] = i
	}

	return classIndex
}
