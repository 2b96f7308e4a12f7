package itip

import "sort"

func sortStrings(s []string) {
	sort.Strings(s)
}

func sortInstanceIDs(ids []InstanceID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
