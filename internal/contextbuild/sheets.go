package contextbuild

import "sort"

// selectSheets determines which sheets receive a summary this build.
// Priority: active sheet, selection sheet (retrieval builds only), retrieved
// sheets in ascending id order, then a fallback fill over all remaining
// sheets only when no relevance signal exists. The active sheet survives
// truncation unconditionally.
func selectSheets(activeSheetID string, selectionSheetID string, retrievedSheetIDs []string, allSheetIDs []string, retrievalEnabled bool, cap int) []string {
	if cap < 1 {
		cap = 1
	}

	seen := make(map[string]bool)
	var picked []string
	add := func(id string) {
		if id == "" || seen[id] {
			return
		}
		seen[id] = true
		picked = append(picked, id)
	}

	add(activeSheetID)
	if retrievalEnabled {
		add(selectionSheetID)
	}

	retrieved := append([]string(nil), retrievedSheetIDs...)
	sort.Strings(retrieved)
	for _, id := range retrieved {
		add(id)
	}

	if !retrievalEnabled || len(retrieved) == 0 {
		rest := append([]string(nil), allSheetIDs...)
		sort.Strings(rest)
		for _, id := range rest {
			add(id)
		}
	}

	if len(picked) > cap {
		picked = picked[:cap]
		if activeSheetID != "" && !contains(picked, activeSheetID) {
			picked = append([]string{activeSheetID}, picked[:cap-1]...)
		}
	}
	return picked
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
