package dedup

import "sort"

// unionFind merges overlapping id groups into disjoint clusters.
type unionFind struct {
	parent map[string]string
}

func newUnionFind() *unionFind {
	return &unionFind{parent: make(map[string]string)}
}

func (u *unionFind) find(x string) string {
	if _, ok := u.parent[x]; !ok {
		u.parent[x] = x
		return x
	}
	root := x
	for u.parent[root] != root {
		root = u.parent[root]
	}
	for u.parent[x] != root {
		next := u.parent[x]
		u.parent[x] = root
		x = next
	}
	return root
}

// union links a and b; the smaller id becomes the root so the result does
// not depend on insertion order.
func (u *unionFind) union(a, b string) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return
	}
	if rb < ra {
		ra, rb = rb, ra
	}
	u.parent[rb] = ra
}

func (u *unionFind) addGroup(ids []string) {
	for i := 1; i < len(ids); i++ {
		u.union(ids[0], ids[i])
	}
	if len(ids) == 1 {
		u.find(ids[0])
	}
}

// clusters returns every cluster with more than one member. Members and
// clusters are sorted.
func (u *unionFind) clusters() [][]string {
	byRoot := make(map[string][]string)
	for id := range u.parent {
		root := u.find(id)
		byRoot[root] = append(byRoot[root], id)
	}
	var out [][]string
	for _, members := range byRoot {
		if len(members) < 2 {
			continue
		}
		sort.Strings(members)
		out = append(out, members)
	}
	sort.Slice(out, func(i, j int) bool { return out[i][0] < out[j][0] })
	return out
}

// MergeGroups unions groups that share a member and discards singletons.
func MergeGroups(groups ...[][]string) [][]string {
	u := newUnionFind()
	for _, set := range groups {
		for _, g := range set {
			u.addGroup(g)
		}
	}
	return u.clusters()
}
